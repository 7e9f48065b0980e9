package database

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/vitals-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/vitals-monitor/pkg/types"
)

//id;name;room;baselineTemp;reasonForAdmission;admittedAt;status
//691bcd11-af15-4c8e-bcb9-316a00000001;Naru Crunchy;101;36.0;General;2024-01-02T08:00:00Z;active

// SeedPatients adds the patients listed in the CSV data from reader, skipping
// any patient that already exists.
func SeedPatients(ctx context.Context, s *Store, reader io.Reader) error {
	r := csv.NewReader(reader)
	r.Comma = ';'
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return err
	}

	patients, err := getPatientsFromRows(rows)
	if err != nil {
		return err
	}

	log := logging.GetLoggerFromContext(ctx)
	log.Info().Msgf("loaded %d patients from file", len(patients))

	for _, p := range patients {
		_, err := s.GetPatient(ctx, p.ID)
		if errors.Is(err, ErrNotFound) {
			_, err = s.AddPatient(ctx, p)
			if err != nil {
				log.Error().Err(err).Str("patientID", p.ID).Msg("could not seed patient")
			}
		} else if err != nil {
			log.Error().Err(err).Str("patientID", p.ID).Msg("unable to check if patient exists")
		}
	}

	return nil
}

func getPatientsFromRows(rows [][]string) ([]types.Patient, error) {
	patients := make([]types.Patient, 0, len(rows))
	seen := map[string]bool{}

	for idx, row := range rows {
		if idx == 0 {
			// Skip the CSV header
			continue
		}

		if len(row) < 4 {
			return nil, fmt.Errorf("too few fields on line %d in patients file", idx+1)
		}

		id := strings.TrimSpace(row[0])
		if id == "" {
			return nil, fmt.Errorf("missing patient id on line %d in patients file", idx+1)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate patient id %s found on line %d in patients file", id, idx+1)
		}
		seen[id] = true

		baseline, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse baseline temperature for patient %s: %w", id, err)
		}

		p := types.Patient{
			ID:           id,
			Name:         row[1],
			Room:         row[2],
			BaselineTemp: baseline,
			Status:       types.PatientStatusActive,
		}

		if len(row) > 4 {
			p.ReasonForAdmission = row[4]
		}

		if len(row) > 5 && row[5] != "" {
			p.AdmittedAt, err = time.Parse(time.RFC3339, strings.TrimSpace(row[5]))
			if err != nil {
				return nil, fmt.Errorf("failed to parse admission date for patient %s: %w", id, err)
			}
		}

		if len(row) > 6 && row[6] != "" {
			p.Status = strings.TrimSpace(row[6])
			if p.Status != types.PatientStatusActive && p.Status != types.PatientStatusInactive {
				return nil, fmt.Errorf("bad status for patient %s on line %d (\"%s\")", id, idx+1, p.Status)
			}
		}

		patients = append(patients, p)
	}

	return patients, nil
}
