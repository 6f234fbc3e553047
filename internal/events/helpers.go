package events

import (
	"encoding/json"
	"fmt"
)

// SetJobFailedData sets the Data field with JobFailedData in a type-safe way.
func (e *JobEvent) SetJobFailedData(data JobFailedData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert JobFailedData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetJobFailedData retrieves JobFailedData from the Data field.
func (e *JobEvent) GetJobFailedData() (*JobFailedData, error) {
	var data JobFailedData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JobFailedData: %w", err)
	}
	return &data, nil
}

// SetJobRetryData sets the Data field with JobRetryData in a type-safe way.
func (e *JobEvent) SetJobRetryData(data JobRetryData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert JobRetryData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetJobRetryData retrieves JobRetryData from the Data field.
func (e *JobEvent) GetJobRetryData() (*JobRetryData, error) {
	var data JobRetryData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JobRetryData: %w", err)
	}
	return &data, nil
}

// SetDecisionData sets the Data field with DecisionData in a type-safe way.
func (e *JobEvent) SetDecisionData(data DecisionData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert DecisionData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetDecisionData retrieves DecisionData from the Data field.
func (e *JobEvent) GetDecisionData() (*DecisionData, error) {
	var data DecisionData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse DecisionData: %w", err)
	}
	return &data, nil
}

// SetCleanupCompletedData sets the Data field with CleanupCompletedData in a type-safe way.
func (e *JobEvent) SetCleanupCompletedData(data CleanupCompletedData) error {
	dataMap, err := structToMap(data)
	if err != nil {
		return fmt.Errorf("failed to convert CleanupCompletedData: %w", err)
	}
	e.Data = dataMap
	return nil
}

// GetCleanupCompletedData retrieves CleanupCompletedData from the Data field.
func (e *JobEvent) GetCleanupCompletedData() (*CleanupCompletedData, error) {
	var data CleanupCompletedData
	if err := mapToStruct(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse CleanupCompletedData: %w", err)
	}
	return &data, nil
}

// structToMap converts a struct to map[string]interface{} using JSON marshaling.
func structToMap(data interface{}) (map[string]interface{}, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(bytes, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// mapToStruct converts a map[string]interface{} to a struct using JSON unmarshaling.
func mapToStruct(dataMap map[string]interface{}, target interface{}) error {
	bytes, err := json.Marshal(dataMap)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, target)
}
