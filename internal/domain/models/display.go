package models

import "fmt"

// Japanese display names for report payloads, mirroring the labels the
// dashboard renders.
var variableDisplayNames = map[string]string{
	"max_temp":          "最高気温",
	"mean_temp":         "平均気温",
	"min_temp":          "最低気温",
	"sum_precipitation": "降水量",
	"sunshine_duration": "日照時間",
	"ave_humidity":      "平均湿度",
	"average_price":     "平均価格",
	"source_price":      "市況価格",
	"volume":            "取引量",
	"prev_price":        "前期価格",
	"prev_volume":       "前期取引量",
	"years_price":       "年間平均価格",
	"years_volume":      "年間平均取引量",
	ConstVariableName:   "定数項",
}

// DisplayName returns the Japanese label for a variable name, or the name
// itself when no mapping exists.
func DisplayName(name string) string {
	if d, ok := variableDisplayNames[name]; ok {
		return d
	}
	return name
}

// TermDisplay formats a half-month lag in months, e.g. "1.5カ月前".
func TermDisplay(previousTerm int) string {
	if previousTerm == 0 {
		return "現在"
	}
	months := float64(previousTerm) * 0.5
	if months == float64(int(months)) {
		return fmt.Sprintf("%dカ月前", int(months))
	}
	return fmt.Sprintf("%.1fカ月前", months)
}

// FormatVariable combines display name and lag, e.g. "平均気温 (2カ月前)".
func FormatVariable(v Variable) string {
	return fmt.Sprintf("%s (%s)", DisplayName(v.Name), TermDisplay(v.PreviousTerm))
}
