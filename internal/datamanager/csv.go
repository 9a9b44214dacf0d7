// internal/datamanager/csv.go
package datamanager

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vansales/stockadvisor/internal/domain"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Cold-start fallback: when the warehouse is unreachable the manager loads
// the most recent on-disk CSV snapshots if present. The CSV cache is not
// part of the primary data plane and is not kept in sync.

const (
	csvDemandHistory = "demand_history.csv"
	csvForecast      = "forecast.csv"
	csvJourneyPlan   = "journey_plan.csv"
)

func (m *Manager) loadFromCSV() error {
	dir := m.cfg.DataManager.CSVFallbackDir
	if dir == "" {
		return errors.New("no CSV fallback directory configured")
	}

	history, err := readSalesFactsCSV(filepath.Join(dir, csvDemandHistory))
	if err != nil {
		return errors.Wrap(err, "demand history CSV")
	}
	forecast, err := readForecastCSV(filepath.Join(dir, csvForecast))
	if err != nil {
		return errors.Wrap(err, "forecast CSV")
	}
	plan, err := readJourneyPlanCSV(filepath.Join(dir, csvJourneyPlan))
	if err != nil {
		return errors.Wrap(err, "journey plan CSV")
	}

	// as_of reflects the cache file, not now
	asOf := time.Now()
	if fi, err := os.Stat(filepath.Join(dir, csvDemandHistory)); err == nil {
		asOf = fi.ModTime()
	}

	next := newSnapshotSet(history, forecast, plan, asOf)

	m.mu.Lock()
	m.current = next
	m.loading = LoadingComplete
	m.mu.Unlock()

	m.logger.Info("Loaded cold-start CSV snapshots",
		zap.String("dir", dir),
		zap.Time("as_of", asOf),
	)
	return nil
}

func openCSV(path string) (*csv.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	// skip header
	if _, err := r.Read(); err != nil && err != io.EOF {
		f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

func readSalesFactsCSV(path string) ([]domain.SalesFact, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.SalesFact
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 6 {
			return nil, errors.Errorf("malformed sales fact row: %v", rec)
		}
		date, err := domain.ParseDate(rec[0])
		if err != nil {
			return nil, err
		}
		qty, err := strconv.Atoi(rec[4])
		if err != nil {
			return nil, err
		}
		price, err := strconv.ParseFloat(rec[5], 64)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.SalesFact{
			Date: date, RouteCode: rec[1], CustomerCode: rec[2],
			ItemCode: rec[3], Quantity: qty, UnitPrice: price,
		})
	}
	return out, nil
}

func readForecastCSV(path string) ([]domain.ForecastRow, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.ForecastRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 5 {
			return nil, errors.Errorf("malformed forecast row: %v", rec)
		}
		date, err := domain.ParseDate(rec[0])
		if err != nil {
			return nil, err
		}
		qty, err := strconv.Atoi(rec[3])
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ForecastRow{
			Date: date, RouteCode: rec[1], ItemCode: rec[2],
			PredictedQuantity: qty, PredictionType: rec[4],
		})
	}
	return out, nil
}

func readJourneyPlanCSV(path string) ([]domain.JourneyPlanEntry, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.JourneyPlanEntry
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 3 {
			return nil, errors.Errorf("malformed journey plan row: %v", rec)
		}
		date, err := domain.ParseDate(rec[2])
		if err != nil {
			return nil, err
		}
		e := domain.JourneyPlanEntry{RouteCode: rec[0], CustomerCode: rec[1], Date: date}
		if len(rec) > 3 {
			e.CustomerName = rec[3]
		}
		out = append(out, e)
	}
	return out, nil
}
