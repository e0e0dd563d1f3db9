package planstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"fleet-route-planner/internal/database"
	"fleet-route-planner/internal/models"
)

// ReadArtifact loads a scenario's materialized artifact. Missing artifact
// maps to database.ErrNotFound.
func (s *Store) ReadArtifact(projectID, editID string) (*models.PlanArtifact, error) {
	data, err := os.ReadFile(s.artifactPath(projectID, editID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	var artifact models.PlanArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	return &artifact, nil
}

// WriteArtifact replaces a scenario's artifact atomically. The baseline
// additionally gets its metadata summary refreshed.
func (s *Store) WriteArtifact(projectID, editID string, artifact *models.PlanArtifact) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	if err := writeFileAtomic(s.artifactPath(projectID, editID), data); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}

	if editID == models.BaselineScenarioID {
		meta := models.RouteMetadata{
			LastGenerated:  artifact.GeneratedAt,
			RouteCount:     artifact.Statistics.RouteCount,
			TotalDistanceM: artifact.Statistics.TotalDistanceM,
			TotalTimeS:     artifact.Statistics.TotalTimeS,
		}
		metaData, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode route metadata: %w", err)
		}
		if err := writeFileAtomic(filepath.Join(s.projectDir(projectID), metadataFileName), metaData); err != nil {
			return fmt.Errorf("failed to write route metadata: %w", err)
		}
	}

	log.Printf("[PLANS] Artifact written: project=%s edit=%s vehicles=%d", projectID, editID, len(artifact.VehicleRoutes))
	return nil
}

// ReadOverrides loads a scenario's stop coordinate overrides. The baseline
// never has overrides; missing files yield an empty map.
func (s *Store) ReadOverrides(projectID, editID string) (map[string]models.Coordinates, error) {
	if editID == models.BaselineScenarioID {
		return map[string]models.Coordinates{}, nil
	}

	data, err := os.ReadFile(filepath.Join(s.scenarioDir(projectID, editID), overridesName))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]models.Coordinates{}, nil
		}
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}

	overrides := make(map[string]models.Coordinates)
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to decode overrides: %w", err)
	}
	return overrides, nil
}

// WriteOverrides replaces a scenario's stop coordinate overrides
func (s *Store) WriteOverrides(projectID, editID string, overrides map[string]models.Coordinates) error {
	if editID == models.BaselineScenarioID {
		return ErrBaselineProtected
	}

	data, err := json.MarshalIndent(overrides, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode overrides: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.scenarioDir(projectID, editID), overridesName), data); err != nil {
		return fmt.Errorf("failed to write overrides: %w", err)
	}
	return nil
}

// ScenarioExists reports whether a scenario directory (or the baseline
// plan) exists
func (s *Store) ScenarioExists(projectID, editID string) bool {
	if editID == models.BaselineScenarioID {
		_, err := os.Stat(filepath.Join(s.projectDir(projectID), planFileName))
		return err == nil
	}
	info, err := os.Stat(s.scenarioDir(projectID, editID))
	return err == nil && info.IsDir()
}

func (s *Store) describeScenario(projectID, editID string) models.EditScenario {
	desc := models.EditScenario{ID: editID}

	if info, err := os.Stat(s.artifactPath(projectID, editID)); err == nil {
		desc.HasArtifact = true
		desc.CreatedAt = info.ModTime()
	}
	if editID != models.BaselineScenarioID {
		if info, err := os.Stat(s.scenarioDir(projectID, editID)); err == nil {
			desc.CreatedAt = info.ModTime()
		}
	}

	if rows, err := s.ReadPlanRows(projectID, editID); err == nil {
		vehicles := make(map[int]bool)
		for _, row := range rows {
			vehicles[row.VehicleID] = true
		}
		desc.VehicleCount = len(vehicles)
	}

	return desc
}

// ListScenarios returns the baseline descriptor followed by the named
// scenarios in lexicographic order
func (s *Store) ListScenarios(projectID string) ([]models.EditScenario, error) {
	scenarios := []models.EditScenario{s.describeScenario(projectID, models.BaselineScenarioID)}

	entries, err := os.ReadDir(filepath.Join(s.projectDir(projectID), editsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return scenarios, nil
		}
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		scenarios = append(scenarios, s.describeScenario(projectID, name))
	}
	return scenarios, nil
}

// CreateScenario creates a named scenario as a deep copy of the source
// scenario (default baseline): edit plan, overrides and cached artifact.
// Copying preserves fingerprints, so a fresh copy reloads without any
// provider calls.
func (s *Store) CreateScenario(projectID, editID, sourceID string) (*models.EditScenario, error) {
	if !models.IsValidID(editID) {
		return nil, fmt.Errorf("invalid scenario id %q", editID)
	}
	if editID == models.BaselineScenarioID {
		return nil, ErrBaselineProtected
	}
	if sourceID == "" {
		sourceID = models.BaselineScenarioID
	}
	if s.ScenarioExists(projectID, editID) {
		return nil, database.ErrAlreadyExists
	}
	if !s.ScenarioExists(projectID, sourceID) {
		return nil, database.ErrNotFound
	}

	rows, err := s.ReadPlanRows(projectID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read source plan: %w", err)
	}
	if err := s.WriteEditPlan(projectID, editID, rows); err != nil {
		return nil, err
	}

	overrides, err := s.ReadOverrides(projectID, sourceID)
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := s.WriteOverrides(projectID, editID, overrides); err != nil {
			return nil, err
		}
	}

	artifact, err := s.ReadArtifact(projectID, sourceID)
	if err == nil {
		if err := s.WriteArtifact(projectID, editID, artifact); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	log.Printf("[PLANS] Scenario created: project=%s edit=%s source=%s", projectID, editID, sourceID)
	desc := s.describeScenario(projectID, editID)
	desc.SourceID = sourceID
	return &desc, nil
}

// DeleteScenario removes a named scenario directory. The baseline is
// protected.
func (s *Store) DeleteScenario(projectID, editID string) error {
	if editID == models.BaselineScenarioID {
		return ErrBaselineProtected
	}
	dir := s.scenarioDir(projectID, editID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return database.ErrNotFound
		}
		return fmt.Errorf("failed to stat scenario: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete scenario: %w", err)
	}
	log.Printf("[PLANS] Scenario deleted: project=%s edit=%s", projectID, editID)
	return nil
}

// DeleteProject removes everything the plan store holds for a project
func (s *Store) DeleteProject(projectID string) error {
	if err := os.RemoveAll(s.projectDir(projectID)); err != nil {
		return fmt.Errorf("failed to delete project plans: %w", err)
	}
	return nil
}

// InvalidateMaterializations strips geometry-derived data from the
// baseline and every scenario artifact of a project: route geometry,
// waypoint cumulatives, arrival times, geometry totals and fingerprints.
// Tabular order and waypoint identities survive, so the next delta run
// regenerates every vehicle from an intact plan.
func (s *Store) InvalidateMaterializations(projectID string) error {
	editIDs := []string{models.BaselineScenarioID}
	if entries, err := os.ReadDir(filepath.Join(s.projectDir(projectID), editsDirName)); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				editIDs = append(editIDs, e.Name())
			}
		}
	}

	invalidated := 0
	for _, editID := range editIDs {
		artifact, err := s.ReadArtifact(projectID, editID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		for i := range artifact.VehicleRoutes {
			route := &artifact.VehicleRoutes[i]
			route.RouteGeometry = nil
			route.Fingerprint = ""
			route.TotalDistance = 0
			route.TotalTime = 0
			stripWaypoints(route.Waypoints)
			stripWaypoints(route.ViaPoints)
			stripWaypoint(&route.StartPoint)
			stripWaypoint(&route.EndPoint)
		}
		artifact.Statistics.TotalDistanceM = 0
		artifact.Statistics.TotalTimeS = 0

		if err := s.WriteArtifact(projectID, editID, artifact); err != nil {
			return err
		}
		invalidated++
	}

	if invalidated > 0 {
		log.Printf("[PLANS] Materializations invalidated: project=%s artifacts=%d", projectID, invalidated)
	}
	return nil
}

func stripWaypoint(w *models.Waypoint) {
	w.CumulativeTime = 0
	w.CumulativeDistance = 0
	w.ArrivalTime = ""
}

func stripWaypoints(ws []models.Waypoint) {
	for i := range ws {
		stripWaypoint(&ws[i])
	}
}
