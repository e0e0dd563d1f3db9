package planstore

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"fleet-route-planner/internal/database"
	"fleet-route-planner/internal/models"
)

const (
	planFileName     = "optimization_routes.csv"
	summaryFileName  = "optimization_summary.csv"
	artifactFileName = "generated_routes.json"
	metadataFileName = "route_metadata.json"
	editPlanFileName = "edit_plan.csv"
	overridesName    = "edit_overrides.json"
	editsDirName     = "edits"
)

// ErrBaselineProtected is returned when an operation would remove the
// implicit baseline scenario
var ErrBaselineProtected = errors.New("baseline scenario cannot be deleted")

// Store keeps per-project plan tables, materialized artifacts and edit
// scenarios on disk. Writers for the same (project, scenario) are
// serialized through LockScenario; all file writes are atomic.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates the plan store rooted at dir
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plan store root: %w", err)
	}
	log.Printf("[PLANS] Plan store ready: root=%s", dir)
	return &Store{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// LockScenario acquires the (project, scenario) writer lock and returns
// the unlock func. Edit-delta runs hold it for the whole reconciliation.
func (s *Store) LockScenario(projectID, editID string) func() {
	key := projectID + "/" + editID

	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *Store) projectDir(projectID string) string {
	return filepath.Join(s.root, projectID)
}

func (s *Store) scenarioDir(projectID, editID string) string {
	return filepath.Join(s.projectDir(projectID), editsDirName, editID)
}

// artifactPath returns the materialized artifact location: the baseline
// artifact lives at the project root, scenario artifacts under edits/
func (s *Store) artifactPath(projectID, editID string) string {
	if editID == models.BaselineScenarioID {
		return filepath.Join(s.projectDir(projectID), artifactFileName)
	}
	return filepath.Join(s.scenarioDir(projectID, editID), artifactFileName)
}

// writeFileAtomic writes via a temp file in the target directory and
// renames it into place, so readers never see a partial file
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

var planHeader = []string{
	"Vehicle_ID", "Stop_ID", "Location_Name", "Location_Type", "Stop_Order",
	"Load", "Cumulative_Load", "Route_Distance_m", "Route_Time_s", "Route_Load",
}

var summaryHeader = []string{
	"Total_Distance_m", "Total_Time_s", "Total_Load", "Objective_Value",
	"Vehicle_Count", "Vehicle_Capacity",
}

// WritePlan persists the optimizer output as the project's baseline plan
// tables: the per-stop route table and the one-line summary
func (s *Store) WritePlan(projectID string, plan *models.Plan) error {
	var rows [][]string
	rows = append(rows, planHeader)
	for _, route := range plan.Routes {
		for i, stop := range route.Stops {
			rows = append(rows, []string{
				strconv.Itoa(route.VehicleID),
				stop.StopID,
				stop.Name,
				stop.Type,
				strconv.Itoa(i + 1),
				strconv.Itoa(stop.Demand),
				strconv.Itoa(stop.CumulativeLoad),
				formatFloat(stop.CumulativeDistance),
				formatFloat(stop.CumulativeTime),
				strconv.Itoa(route.Load),
			})
		}
	}

	if err := s.writeCSV(filepath.Join(s.projectDir(projectID), planFileName), rows); err != nil {
		return fmt.Errorf("failed to write plan table: %w", err)
	}

	summary := [][]string{
		summaryHeader,
		{
			formatFloat(plan.TotalDistance),
			formatFloat(plan.TotalTime),
			strconv.Itoa(plan.TotalLoad),
			formatFloat(plan.ObjectiveValue),
			strconv.Itoa(len(plan.Routes)),
			strconv.Itoa(plan.Capacity),
		},
	}
	if err := s.writeCSV(filepath.Join(s.projectDir(projectID), summaryFileName), summary); err != nil {
		return fmt.Errorf("failed to write plan summary: %w", err)
	}

	log.Printf("[PLANS] Plan written: project=%s routes=%d stops=%d", projectID, len(plan.Routes), len(rows)-1)
	return nil
}

// ReadPlanRows returns the tabular edit plan of a scenario: non-depot rows
// as (vehicle, order, stop). The baseline's plan is the optimization table;
// named scenarios read their own edit_plan.csv.
func (s *Store) ReadPlanRows(projectID, editID string) ([]models.EditPlanRow, error) {
	if editID == models.BaselineScenarioID {
		return s.readBaselineRows(projectID)
	}

	records, err := s.readCSV(filepath.Join(s.scenarioDir(projectID, editID), editPlanFileName))
	if err != nil {
		return nil, err
	}

	rows := make([]models.EditPlanRow, 0, len(records))
	for i, rec := range records {
		if len(rec) < 3 {
			return nil, fmt.Errorf("edit plan row %d has %d columns, expected 3", i+1, len(rec))
		}
		vehicleID, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("edit plan row %d has bad vehicle id %q", i+1, rec[0])
		}
		order, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("edit plan row %d has bad stop order %q", i+1, rec[1])
		}
		rows = append(rows, models.EditPlanRow{VehicleID: vehicleID, StopOrder: order, StopID: rec[2]})
	}
	return rows, nil
}

func (s *Store) readBaselineRows(projectID string) ([]models.EditPlanRow, error) {
	records, err := s.readCSV(filepath.Join(s.projectDir(projectID), planFileName))
	if err != nil {
		return nil, err
	}

	var rows []models.EditPlanRow
	orderPerVehicle := make(map[int]int)
	for i, rec := range records {
		if len(rec) < len(planHeader) {
			return nil, fmt.Errorf("plan table row %d has %d columns, expected %d", i+1, len(rec), len(planHeader))
		}
		if rec[3] == "depot" {
			continue
		}
		vehicleID, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("plan table row %d has bad vehicle id %q", i+1, rec[0])
		}
		orderPerVehicle[vehicleID]++
		rows = append(rows, models.EditPlanRow{
			VehicleID: vehicleID,
			StopOrder: orderPerVehicle[vehicleID],
			StopID:    rec[1],
		})
	}
	return rows, nil
}

// WriteEditPlan replaces a scenario's tabular edit plan
func (s *Store) WriteEditPlan(projectID, editID string, rows []models.EditPlanRow) error {
	if editID == models.BaselineScenarioID {
		return ErrBaselineProtected
	}

	records := [][]string{{"Vehicle_ID", "Stop_Order", "Stop_ID"}}
	for _, row := range rows {
		records = append(records, []string{
			strconv.Itoa(row.VehicleID),
			strconv.Itoa(row.StopOrder),
			row.StopID,
		})
	}
	if err := s.writeCSV(filepath.Join(s.scenarioDir(projectID, editID), editPlanFileName), records); err != nil {
		return fmt.Errorf("failed to write edit plan: %w", err)
	}
	return nil
}

func (s *Store) writeCSV(path string, records [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to encode csv: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// readCSV reads all records, dropping the header row. A missing file maps
// to database.ErrNotFound.
func (s *Store) readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}
