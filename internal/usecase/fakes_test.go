package usecase

import (
	"context"
	"fmt"
	"sort"

	"VegeCast/internal/domain/models"
	domrepo "VegeCast/internal/domain/repository"
	applogger "VegeCast/pkg/logger"
)

func testLogger() *applogger.Logger {
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stdout"})
	if err != nil {
		panic(err)
	}
	return l
}

func fp(v float64) *float64 { return &v }

// --- aggregate reader fake ---

type fakeReader struct {
	weather map[string]models.WeatherRow
	market  map[string]models.MarketRow
	prices  map[string][]models.PricePoint
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		weather: make(map[string]models.WeatherRow),
		market:  make(map[string]models.MarketRow),
		prices:  make(map[string][]models.PricePoint),
	}
}

func weatherKey(region string, p models.Period) string {
	return fmt.Sprintf("%s|%d|%d|%s", region, p.Year, p.Month, p.Half)
}

func marketKey(veg, region string, p models.Period) string {
	return fmt.Sprintf("%s|%s|%d|%d|%s", veg, region, p.Year, p.Month, p.Half)
}

func (f *fakeReader) putWeather(region string, p models.Period, row models.WeatherRow) {
	row.Region, row.Year, row.Month, row.Half = region, p.Year, p.Month, p.Half
	f.weather[weatherKey(region, p)] = row
}

func (f *fakeReader) putMarket(veg, region string, p models.Period, row models.MarketRow) {
	row.Vegetable, row.Region = veg, region
	row.Year, row.Month, row.Half = p.Year, p.Month, p.Half
	f.market[marketKey(veg, region, p)] = row
}

func (f *fakeReader) putPrice(veg, region string, month int, pt models.PricePoint) {
	key := fmt.Sprintf("%s|%s|%d", veg, region, month)
	f.prices[key] = append(f.prices[key], pt)
}

func (f *fakeReader) Weather(_ context.Context, region string, p models.Period) (models.WeatherRow, bool, error) {
	row, ok := f.weather[weatherKey(region, p)]
	return row, ok, nil
}

func (f *fakeReader) Market(_ context.Context, veg, region string, p models.Period) (models.MarketRow, bool, error) {
	row, ok := f.market[marketKey(veg, region, p)]
	return row, ok, nil
}

func (f *fakeReader) PriceHistory(_ context.Context, veg, region string, month, fromYear, toYear int) ([]models.PricePoint, error) {
	key := fmt.Sprintf("%s|%s|%d", veg, region, month)
	var out []models.PricePoint
	for _, pt := range f.prices[key] {
		if pt.Year >= fromYear && pt.Year <= toYear {
			out = append(out, pt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Half < out[j].Half
	})
	return out, nil
}

// --- model store fake ---

type fakeModelStore struct {
	kinds       []models.ModelKind
	variables   []models.Variable
	featureSets map[string][]int64 // "kindID|month" -> variable ids
	versions    []models.ModelVersion
	coefs       map[int64][]models.Coefficient
	evals       map[int64][]models.Evaluation
	nextID      int64
}

func newFakeModelStore() *fakeModelStore {
	return &fakeModelStore{
		featureSets: make(map[string][]int64),
		coefs:       make(map[int64][]models.Coefficient),
		evals:       make(map[int64][]models.Evaluation),
		nextID:      1,
	}
}

func (s *fakeModelStore) id() int64 {
	v := s.nextID
	s.nextID++
	return v
}

func fsKey(kindID int64, month int) string { return fmt.Sprintf("%d|%d", kindID, month) }

func (s *fakeModelStore) KindByName(_ context.Context, tagName string) (models.ModelKind, bool, error) {
	for _, k := range s.kinds {
		if k.TagName == tagName {
			return k, true, nil
		}
	}
	return models.ModelKind{}, false, nil
}

func (s *fakeModelStore) KindByID(_ context.Context, id int64) (models.ModelKind, bool, error) {
	for _, k := range s.kinds {
		if k.ID == id {
			return k, true, nil
		}
	}
	return models.ModelKind{}, false, nil
}

func (s *fakeModelStore) GetOrCreateKind(_ context.Context, tagName, vegetable string) (models.ModelKind, error) {
	for _, k := range s.kinds {
		if k.TagName == tagName {
			return k, nil
		}
	}
	k := models.ModelKind{ID: s.id(), TagName: tagName, Vegetable: vegetable}
	s.kinds = append(s.kinds, k)
	return k, nil
}

func (s *fakeModelStore) VariablesByIDs(_ context.Context, ids []int64) ([]models.Variable, error) {
	var out []models.Variable
	for _, id := range ids {
		for _, v := range s.variables {
			if v.ID == id {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

func (s *fakeModelStore) GetOrCreateVariable(_ context.Context, name string, previousTerm int) (models.Variable, error) {
	for _, v := range s.variables {
		if v.Name == name && v.PreviousTerm == previousTerm {
			return v, nil
		}
	}
	v := models.Variable{ID: s.id(), Name: name, PreviousTerm: previousTerm}
	s.variables = append(s.variables, v)
	return v, nil
}

func (s *fakeModelStore) FeatureSetVariables(ctx context.Context, kindID int64, targetMonth int) ([]models.Variable, error) {
	return s.VariablesByIDs(ctx, s.featureSets[fsKey(kindID, targetMonth)])
}

func (s *fakeModelStore) ReplaceFeatureSet(_ context.Context, kindID int64, targetMonth int, variableIDs []int64) error {
	s.featureSets[fsKey(kindID, targetMonth)] = append([]int64(nil), variableIDs...)
	return nil
}

func (s *fakeModelStore) SaveFittedModel(ctx context.Context, kindID int64, targetMonth int, fm domrepo.FittedModel) (int64, error) {
	for i, v := range s.versions {
		if v.ModelKindID == kindID && v.TargetMonth == targetMonth {
			s.versions[i].IsActive = false
		}
	}
	ver := models.ModelVersion{ID: s.id(), ModelKindID: kindID, TargetMonth: targetMonth, IsActive: true}
	s.versions = append(s.versions, ver)

	var fsIDs []int64
	for _, c := range fm.Coefficients {
		if !c.IsSegment {
			fsIDs = append(fsIDs, c.Variable.ID)
		}
	}
	if err := s.ReplaceFeatureSet(ctx, kindID, targetMonth, fsIDs); err != nil {
		return 0, err
	}
	s.storeFit(ver.ID, fm)
	return ver.ID, nil
}

func (s *fakeModelStore) RefitVersion(_ context.Context, versionID int64, fm domrepo.FittedModel) error {
	found := false
	for _, v := range s.versions {
		if v.ID == versionID {
			found = true
		}
	}
	if !found {
		return models.NewNotFound("モデルバージョン", fmt.Sprintf("%d", versionID))
	}
	s.coefs[versionID] = nil
	s.storeFit(versionID, fm)
	return nil
}

func (s *fakeModelStore) storeFit(versionID int64, fm domrepo.FittedModel) {
	for _, c := range fm.Coefficients {
		s.coefs[versionID] = append(s.coefs[versionID], models.Coefficient{
			ID:             s.id(),
			ModelVersionID: versionID,
			VariableID:     c.Variable.ID,
			Coef:           c.Coef,
			TValue:         c.TValue,
			PValue:         c.PValue,
			StdError:       c.StdError,
			IsSegment:      c.IsSegment,
			Variable:       c.Variable,
		})
	}
	ev := fm.Evaluation
	ev.ID = s.id()
	ev.ModelVersionID = versionID
	s.evals[versionID] = append(s.evals[versionID], ev)
}

func (s *fakeModelStore) ActiveVersions(_ context.Context) ([]models.ModelVersion, error) {
	var out []models.ModelVersion
	for _, v := range s.versions {
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *fakeModelStore) ActiveVersion(_ context.Context, kindID int64, targetMonth int) (models.ModelVersion, bool, error) {
	for _, v := range s.versions {
		if v.IsActive && v.ModelKindID == kindID && v.TargetMonth == targetMonth {
			return v, true, nil
		}
	}
	return models.ModelVersion{}, false, nil
}

func (s *fakeModelStore) Coefficients(_ context.Context, versionID int64) ([]models.Coefficient, error) {
	return s.coefs[versionID], nil
}

func (s *fakeModelStore) LatestEvaluation(_ context.Context, versionID int64) (models.Evaluation, bool, error) {
	evs := s.evals[versionID]
	if len(evs) == 0 {
		return models.Evaluation{}, false, nil
	}
	return evs[len(evs)-1], true, nil
}

func (s *fakeModelStore) ResetForecastData(_ context.Context) error {
	*s = *newFakeModelStore()
	return nil
}

// --- report store fake ---

type fakeReportStore struct {
	reports map[string]models.PredictionReport
	creates int
	updates int
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{reports: make(map[string]models.PredictionReport)}
}

func reportKey(versionID int64, p models.Period) string {
	return fmt.Sprintf("%d|%d|%d|%s", versionID, p.Year, p.Month, p.Half)
}

func (s *fakeReportStore) Upsert(_ context.Context, r models.PredictionReport) (bool, error) {
	key := reportKey(r.ModelVersionID, r.Period())
	_, exists := s.reports[key]
	s.reports[key] = r
	if exists {
		s.updates++
		return false, nil
	}
	s.creates++
	return true, nil
}

func (s *fakeReportStore) Get(_ context.Context, versionID int64, p models.Period) (models.PredictionReport, bool, error) {
	r, ok := s.reports[reportKey(versionID, p)]
	return r, ok, nil
}

func (s *fakeReportStore) ListLatest(_ context.Context, _ *int64, limit int) ([]models.PredictionReport, error) {
	var out []models.PredictionReport
	for _, r := range s.reports {
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- metrics fake ---

type fakeMetrics struct {
	fits    int
	reports int
	errors  int
}

func (m *fakeMetrics) RecordFit(string, bool)           { m.fits++ }
func (m *fakeMetrics) RecordReport(bool)                { m.reports++ }
func (m *fakeMetrics) RecordError(string)               { m.errors++ }
func (m *fakeMetrics) RecordLatency(string, float64)    {}
func (m *fakeMetrics) RecordPrediction(string, float64) {}
