package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"goregress/domain/regression"
)

// MetricTemplate is the metric section written by config-template
type MetricTemplate struct {
	MetricName      string   `yaml:"metric_name"`
	File            string   `yaml:"file"`
	Region          []string `yaml:"region,omitempty"`
	Muttype         []string `yaml:"muttype,omitempty"`
	Adjust          string   `yaml:"adjust,omitempty"`
	ElementsTotalBy string   `yaml:"elements_total_by,omitempty"`
	SamplesTotalBy  string   `yaml:"samples_total_by,omitempty"`
}

var (
	totalsOptions    = "select between none, included, sum, mean, median"
	mutdensityRegion = []string{"select between all, protein_affecting, non_protein_affecting, synonymous", ""}
	mutdensityTypes  = []string{"select between all, snv, indel, snv_indel", ""}
)

func mutdensityTemplate(name string) MetricTemplate {
	return MetricTemplate{
		MetricName:      name,
		File:            "/path/to/all_" + name + "s.tsv",
		Region:          append([]string(nil), mutdensityRegion...),
		Muttype:         append([]string(nil), mutdensityTypes...),
		Adjust:          "select between yes, no",
		ElementsTotalBy: totalsOptions,
		SamplesTotalBy:  totalsOptions,
	}
}

// Templates is the registry of metrics config-template knows about
var Templates = map[string]MetricTemplate{
	"mutdensity":      mutdensityTemplate("mutdensity"),
	"mutreadsdensity": mutdensityTemplate("mutreadsdensity"),
	"oncodrivefml": {
		MetricName:      "oncodrivefml",
		File:            "/path/to/oncodrivefml/dir",
		ElementsTotalBy: totalsOptions,
		SamplesTotalBy:  totalsOptions,
	},
}

// generalTemplate documents every general key with a placeholder
type generalTemplate struct {
	OutputDir             string `yaml:"output_dir"`
	HandleNA              string `yaml:"handle_na"`
	Elements              string `yaml:"elements"`
	Samples               string `yaml:"samples"`
	Model                 string `yaml:"model"`
	Multi                 string `yaml:"multi"`
	PredictorsFile        string `yaml:"predictors_file"`
	SampleColumn          string `yaml:"sample_column"`
	Predictors            string `yaml:"predictors"`
	PredictorsIntercept0  string `yaml:"predictors_intercept_0"`
	PredictorRandomEffect string `yaml:"predictor_random_effect"`
	PredictorsMultiForce  string `yaml:"predictors_multi_force"`
	CorrectPvals          string `yaml:"correct_pvals"`
	SignificanceThreshold string `yaml:"significance_threshold"`
}

func newGeneralTemplate() generalTemplate {
	models := make([]string, len(regression.ModelKinds))
	for i, k := range regression.ModelKinds {
		models[i] = string(k)
	}
	return generalTemplate{
		OutputDir:             "/path/to/dir",
		HandleNA:              "select between ignore, mean, all_samples (move this field to the specific metric section for a metric-specific NA handling)",
		Elements:              "add list of elements or regex. Move this field to the specific metric section if the subset by elements is not general",
		Samples:               "add list of samples or regex. Move this field to the specific metric section if the subset by samples is not general",
		Model:                 "select between " + strings.Join(models, ", "),
		Multi:                 "select between yes, no",
		PredictorsFile:        "path/to/file",
		SampleColumn:          "add sample column name",
		Predictors:            "column names in predictors file (if empty, all colnames in predictor file will be used)",
		PredictorsIntercept0:  "leave empty if NA",
		PredictorRandomEffect: "leave empty if NA",
		PredictorsMultiForce:  "leave empty if NA",
		CorrectPvals:          "select between yes or no",
		SignificanceThreshold: "leave empty to use 0.05",
	}
}

type templateFile struct {
	General generalTemplate           `yaml:"general"`
	Metrics map[string]MetricTemplate `yaml:"metrics"`
}

// RenderTemplate builds config.yaml content for the requested metrics.
// Unknown metrics are returned in skipped; it is an error when none is known.
func RenderTemplate(metrics []string) (data []byte, skipped []string, err error) {
	file := templateFile{General: newGeneralTemplate(), Metrics: make(map[string]MetricTemplate)}
	for i, m := range metrics {
		tmpl, ok := Templates[strings.ToLower(strings.TrimSpace(m))]
		if !ok {
			skipped = append(skipped, m)
			continue
		}
		file.Metrics[fmt.Sprintf("metric_%d", i+1)] = tmpl
	}
	if len(file.Metrics) == 0 {
		return nil, skipped, fmt.Errorf("no template available for %s", strings.Join(metrics, ", "))
	}
	data, err = yaml.Marshal(file)
	return data, skipped, err
}
