package storage

import (
	"encoding/json"
	"errors"

	"seqcast/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps a record with the versions this build writes.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeModel(r model.ModelRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeModel(data []byte) (model.ModelRecord, error) {
	var record model.ModelRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ModelRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ModelRecord{}, err
	}
	return record, nil
}

func EncodeTrainingHistory(h model.TrainingHistory) ([]byte, error) {
	return json.Marshal(h)
}

func DecodeTrainingHistory(data []byte) (model.TrainingHistory, error) {
	var history model.TrainingHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return model.TrainingHistory{}, err
	}
	if err := checkVersion(history.VersionedRecord); err != nil {
		return model.TrainingHistory{}, err
	}
	return history, nil
}

func EncodeForecast(r model.ForecastRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeForecast(data []byte) (model.ForecastRecord, error) {
	var record model.ForecastRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ForecastRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ForecastRecord{}, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
