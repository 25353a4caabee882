package main

import (
	"context"
	"flag"
	"log"
	"time"

	"VegeCast/internal/domain/models"
	internalrepo "VegeCast/internal/repository"
	pkgch "VegeCast/pkg/clickhouse"
	"VegeCast/pkg/config"
	pkgpg "VegeCast/pkg/postgres"
)

// maxLag is the deepest registered half-month lag: one full year back.
const maxLag = 24

// defaultKinds are the vegetable models registered out of the box.
var defaultKinds = []struct {
	TagName   string
	Vegetable string
}{
	{"cabbage_standard", "キャベツ"},
	{"cabbage_spring", "キャベツ春系"},
	{"lettuce_standard", "レタス"},
	{"onion_standard", "たまねぎ"},
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	reset := flag.Bool("reset", false, "wipe the forecast registry before seeding")
	aggregates := flag.Bool("aggregates", false, "also create the ClickHouse aggregate tables")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	client, err := pkgpg.NewClient(
		pkgpg.WithDSN(cfg.PostgresDSN()),
		pkgpg.WithMaxConnections(cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns),
	)
	if err != nil {
		log.Fatalf("postgres connect failed: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.ModelSchemaStatements()); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}

	if *aggregates {
		ch, err := pkgch.NewClient(
			pkgch.WithHost(cfg.ClickHouse.Host),
			pkgch.WithPort(cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		)
		if err != nil {
			log.Fatalf("clickhouse connect failed: %v", err)
		}
		if err := ch.InitSchema(ctx, internalrepo.AggregateSchemaStatements()); err != nil {
			log.Fatalf("aggregate schema init failed: %v", err)
		}
		_ = ch.Close()
		log.Println("aggregate tables ready")
	}

	store := internalrepo.NewPGModelStore(client)

	if *reset {
		log.Println("resetting forecast registry...")
		if err := store.ResetForecastData(ctx); err != nil {
			log.Fatalf("reset failed: %v", err)
		}
	}

	// Explanatory variables: every weather and lagged market measurement
	// at every half-month lag up to one year, plus the reserved constant.
	names := make([]string, 0, len(models.WeatherVariableNames)+len(models.MarketVariableNames))
	names = append(names, models.WeatherVariableNames...)
	names = append(names, models.MarketVariableNames...)

	count := 0
	for _, name := range names {
		for lag := 1; lag <= maxLag; lag++ {
			if _, err := store.GetOrCreateVariable(ctx, name, lag); err != nil {
				log.Fatalf("variable seed failed (%s, lag %d): %v", name, lag, err)
			}
			count++
		}
	}
	if _, err := store.GetOrCreateVariable(ctx, models.ConstVariableName, 0); err != nil {
		log.Fatalf("const variable seed failed: %v", err)
	}
	log.Printf("variables ready: %d", count+1)

	for _, k := range defaultKinds {
		kind, err := store.GetOrCreateKind(ctx, k.TagName, k.Vegetable)
		if err != nil {
			log.Fatalf("model kind seed failed (%s): %v", k.TagName, err)
		}

		// Default feature set per month: mean temperature and
		// precipitation two months back, last year's price level.
		defaults := []struct {
			name string
			lag  int
		}{
			{"mean_temp", 4},
			{"sum_precipitation", 4},
			{"years_price", 24},
		}
		ids := make([]int64, 0, len(defaults))
		for _, d := range defaults {
			v, err := store.GetOrCreateVariable(ctx, d.name, d.lag)
			if err != nil {
				log.Fatalf("feature variable lookup failed: %v", err)
			}
			ids = append(ids, v.ID)
		}
		for month := 1; month <= 12; month++ {
			existing, err := store.FeatureSetVariables(ctx, kind.ID, month)
			if err != nil {
				log.Fatalf("feature set lookup failed: %v", err)
			}
			if len(existing) > 0 {
				continue // keep operator-tuned sets
			}
			if err := store.ReplaceFeatureSet(ctx, kind.ID, month, ids); err != nil {
				log.Fatalf("feature set seed failed (%s, month %d): %v", k.TagName, month, err)
			}
		}
		log.Printf("model kind ready: %s (%s)", kind.TagName, kind.Vegetable)
	}

	log.Println("seed complete")
}
