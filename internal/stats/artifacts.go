package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"highorder/internal/model"
)

// EvaluationArtifacts is everything written for one evaluation run.
type EvaluationArtifacts struct {
	RunID   string          `json:"run_id"`
	Spec    model.LayerSpec `json:"spec"`
	Inputs  []float64       `json:"-"`
	Outputs []float64       `json:"-"`
	Summary Summary         `json:"summary"`
}

// WriteEvaluationArtifacts writes config.json, summary.json and outputs.csv
// under baseDir/RunID and returns that directory.
func WriteEvaluationArtifacts(baseDir string, artifacts EvaluationArtifacts) (string, error) {
	if artifacts.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Spec); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	if err := WriteEvaluationCSV(filepath.Join(runDir, "outputs.csv"), artifacts.Inputs, artifacts.Outputs); err != nil {
		return "", err
	}
	return runDir, nil
}

func ReadSummary(runDir string) (Summary, bool, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "summary.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}, false, nil
		}
		return Summary{}, false, err
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return Summary{}, false, err
	}
	return summary, true, nil
}

// WriteEvaluationCSV writes input,output pairs with a header row.
func WriteEvaluationCSV(path string, inputs, outputs []float64) error {
	if len(inputs) != len(outputs) {
		return fmt.Errorf("have %d inputs and %d outputs", len(inputs), len(outputs))
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"input", "output"}); err != nil {
		return err
	}
	for i := range inputs {
		if err := writer.Write([]string{
			strconv.FormatFloat(inputs[i], 'g', -1, 64),
			strconv.FormatFloat(outputs[i], 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadEvaluationCSV(path string) ([]float64, []float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, []float64{}, nil
		}
		return nil, nil, err
	}
	if len(header) < 2 {
		return nil, nil, fmt.Errorf("evaluation header must have at least 2 columns")
	}

	var inputs, outputs []float64
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		in, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, nil, err
		}
		out, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, nil, err
		}
		inputs = append(inputs, in)
		outputs = append(outputs, out)
	}
	return inputs, outputs, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
