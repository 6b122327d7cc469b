// Package usecases contains the application's business logic
package usecases

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/entities"
	"github.com/nrega-mitra/backend/internal/geo"
	"github.com/nrega-mitra/backend/internal/integration/openai"
	"github.com/nrega-mitra/backend/internal/logging"
	"github.com/nrega-mitra/backend/internal/metrics"
	"github.com/nrega-mitra/backend/internal/repository"
)

// ErrRefreshInProgress is returned when a refresh is requested while another one runs
const ErrRefreshInProgress = errors.ConstError("refresh already in progress")

// RecordFetcher retrieves the full upstream record set
type RecordFetcher interface {
	FetchRecords(ctx context.Context) ([]entities.NregaRecord, error)
}

// Options configures a NregaUseCase
type Options struct {
	TargetState string
	CacheTTL    time.Duration
	LocateMaxKm float64
	Gazetteer   *geo.Gazetteer
	Interpreter openai.OpenAIService
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// NregaUseCase handles business logic related to MGNREGA district data
type NregaUseCase struct {
	repo        repository.NregaRepository
	fetcher     RecordFetcher
	interpreter openai.OpenAIService
	gazetteer   *geo.Gazetteer
	cache       *cache.Cache
	state       string
	locateMaxKm float64
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	refreshMu sync.Mutex
	// cacheGen is bumped on every flush; loads started before a flush are not cached
	cacheGen atomic.Uint64
}

// NewNregaUseCase creates a new NREGA use case. fetcher may be nil for
// read-only processes such as the bot.
func NewNregaUseCase(repo repository.NregaRepository, fetcher RecordFetcher, opts Options) *NregaUseCase {
	if opts.TargetState == "" {
		opts.TargetState = "MAHARASHTRA"
	}
	if opts.LocateMaxKm <= 0 {
		opts.LocateMaxKm = 150
	}
	if opts.Gazetteer == nil {
		opts.Gazetteer = geo.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	uc := &NregaUseCase{
		repo:        repo,
		fetcher:     fetcher,
		interpreter: opts.Interpreter,
		gazetteer:   opts.Gazetteer,
		state:       entities.StateKey(opts.TargetState),
		locateMaxKm: opts.LocateMaxKm,
		logger:      logging.OrNop(opts.Logger).Named("usecase"),
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
	if opts.CacheTTL > 0 {
		uc.cache = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return uc
}

// TargetState returns the upper-case state whose records are kept
func (uc *NregaUseCase) TargetState() string {
	return uc.state
}

// RefreshNregaData fetches fresh data and replaces the target state's records.
// An empty upstream response, or one without target-state records, leaves the
// stored data untouched.
func (uc *NregaUseCase) RefreshNregaData(ctx context.Context) (entities.RefreshRun, error) {
	if uc.fetcher == nil {
		return entities.RefreshRun{}, errors.NotSupportedf("refresh without a data API client")
	}
	if !uc.refreshMu.TryLock() {
		return entities.RefreshRun{}, ErrRefreshInProgress
	}
	defer uc.refreshMu.Unlock()

	run := entities.RefreshRun{
		ID:        uuid.NewString(),
		StartedAt: uc.now(),
	}
	logger := uc.logger.With(zap.String("run_id", run.ID))
	logger.Info("fetching latest NREGA data")

	records, err := uc.fetcher.FetchRecords(ctx)
	if err != nil {
		err = errors.Annotate(err, "failed to fetch NREGA data")
		uc.finishRun(ctx, &run, entities.RunFailed, err)
		return run, err
	}
	run.Fetched = len(records)
	if len(records) == 0 {
		logger.Warn("no data received from API")
		uc.finishRun(ctx, &run, entities.RunSkipped, nil)
		return run, nil
	}

	matched := make([]entities.NregaRecord, 0, len(records))
	for _, rec := range records {
		if entities.StateKey(rec.StateName) == uc.state {
			matched = append(matched, rec)
		}
	}
	run.Matched = len(matched)
	if len(matched) == 0 {
		logger.Warn("no target state records found in API data", zap.String("state", uc.state))
		uc.finishRun(ctx, &run, entities.RunSkipped, nil)
		return run, nil
	}

	// a half-done replace would leave the state empty, so the write outlives the caller
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	err = uc.repo.ReplaceStateRecords(writeCtx, uc.state, matched)
	cancel()
	if err != nil {
		err = errors.Annotate(err, "failed to save data to repository")
		uc.finishRun(ctx, &run, entities.RunFailed, err)
		return run, err
	}
	run.Stored = len(matched)
	uc.flushCache()
	uc.finishRun(ctx, &run, entities.RunSucceeded, nil)

	logger.Info("updated district records",
		zap.String("state", uc.state),
		zap.Int("fetched", run.Fetched),
		zap.Int("stored", run.Stored))
	return run, nil
}

func (uc *NregaUseCase) finishRun(ctx context.Context, run *entities.RefreshRun, status string, runErr error) {
	run.FinishedAt = uc.now()
	run.Status = status
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// the run is recorded even when the caller's context is already cancelled
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := uc.repo.SaveRefreshRun(saveCtx, *run); err != nil {
		uc.logger.Error("failed to record refresh run", zap.String("run_id", run.ID), zap.Error(err))
	}
	uc.metrics.ObserveRefresh(status, run.Stored, run.FinishedAt)
}

// LastRefresh returns the most recent refresh run
func (uc *NregaUseCase) LastRefresh(ctx context.Context) (entities.RefreshRun, error) {
	return uc.repo.LastRefreshRun(ctx)
}

// Ping checks that the store is reachable
func (uc *NregaUseCase) Ping(ctx context.Context) error {
	return uc.repo.Ping(ctx)
}

// GetAllRecords returns every stored record
func (uc *NregaUseCase) GetAllRecords(ctx context.Context) ([]entities.NregaRecord, error) {
	v, err := uc.cached("all", func() (interface{}, error) {
		return uc.repo.FindAll(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]entities.NregaRecord), nil
}

// GetStateRecords returns the records of the target state
func (uc *NregaUseCase) GetStateRecords(ctx context.Context) ([]entities.NregaRecord, error) {
	v, err := uc.cached("state", func() (interface{}, error) {
		return uc.repo.FindByState(ctx, uc.state)
	})
	if err != nil {
		return nil, err
	}
	return v.([]entities.NregaRecord), nil
}

// ListDistricts returns the district names present in the store
func (uc *NregaUseCase) ListDistricts(ctx context.Context) ([]string, error) {
	v, err := uc.cached("districts", func() (interface{}, error) {
		districts, err := uc.repo.DistinctDistricts(ctx, uc.state)
		if districts == nil && err == nil {
			districts = []string{}
		}
		return districts, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// GetDistrict returns the most recent record for the district
func (uc *NregaUseCase) GetDistrict(ctx context.Context, name string) (entities.NregaRecord, error) {
	history, err := uc.GetDistrictHistory(ctx, name)
	if err != nil {
		return entities.NregaRecord{}, err
	}
	return history[0], nil
}

// GetDistrictHistory returns every stored month for the district, newest first.
// Renamed districts are found under any of their known names.
func (uc *NregaUseCase) GetDistrictHistory(ctx context.Context, name string) ([]entities.NregaRecord, error) {
	key := entities.DistrictKey(name)
	if key == "" {
		return nil, errors.NotValidf("empty district name")
	}
	v, err := uc.cached("district:"+key, func() (interface{}, error) {
		candidates := []string{key}
		for _, variant := range uc.gazetteer.Variants(key) {
			if variant != key {
				candidates = append(candidates, variant)
			}
		}
		var history []entities.NregaRecord
		for _, candidate := range candidates {
			records, err := uc.repo.FindByDistrict(ctx, uc.state, candidate)
			if err != nil {
				return nil, err
			}
			history = append(history, records...)
		}
		if len(history) > 0 {
			sort.SliceStable(history, func(i, j int) bool {
				return entities.Newer(history[i], history[j])
			})
			return history, nil
		}
		return nil, errors.NotFoundf("district %q", name)
	})
	if err != nil {
		return nil, err
	}
	return v.([]entities.NregaRecord), nil
}

// MetricComparison is one row of a district comparison
type MetricComparison struct {
	Key      string `json:"key"`
	District string `json:"district"`
	With     string `json:"with"`
	// Difference is District minus With when both values are numeric
	Difference *float64 `json:"difference,omitempty"`
}

// Comparison places the latest records of two districts side by side
type Comparison struct {
	District entities.NregaRecord `json:"district"`
	With     entities.NregaRecord `json:"with"`
	Metrics  []MetricComparison   `json:"metrics"`
}

// CompareDistricts compares the latest records of two districts metric by metric
func (uc *NregaUseCase) CompareDistricts(ctx context.Context, district, with string) (Comparison, error) {
	a, err := uc.GetDistrict(ctx, district)
	if err != nil {
		return Comparison{}, err
	}
	b, err := uc.GetDistrict(ctx, with)
	if err != nil {
		return Comparison{}, err
	}

	am, bm := a.Metrics(), b.Metrics()
	rows := make([]MetricComparison, len(am))
	for i := range am {
		rows[i] = MetricComparison{Key: am[i].Key, District: am[i].Value, With: bm[i].Value}
		x, okA := parseNumber(am[i].Value)
		y, okB := parseNumber(bm[i].Value)
		if okA && okB {
			diff := x - y
			rows[i].Difference = &diff
		}
	}
	return Comparison{District: a, With: b, Metrics: rows}, nil
}

func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// Location is the district found for a pair of coordinates
type Location struct {
	District   string                `json:"district"`
	DistanceKm float64               `json:"distance_km"`
	Record     *entities.NregaRecord `json:"record,omitempty"`
}

// LocateDistrict finds the nearest district headquarters to the coordinates
// and attaches its latest record when one is stored.
func (uc *NregaUseCase) LocateDistrict(ctx context.Context, lat, lon float64) (Location, error) {
	d, km, err := uc.gazetteer.Nearest(lat, lon)
	if err != nil {
		return Location{}, err
	}
	if km > uc.locateMaxKm {
		return Location{}, errors.NotFoundf("district within %.0f km of (%.4f, %.4f)", uc.locateMaxKm, lat, lon)
	}

	loc := Location{District: entities.DistrictKey(d.Name), DistanceKm: km}
	rec, err := uc.GetDistrict(ctx, d.Name)
	switch {
	case err == nil:
		loc.Record = &rec
	case errors.Is(err, errors.NotFound):
		uc.logger.Debug("located district has no stored data", zap.String("district", loc.District))
	default:
		return Location{}, err
	}
	return loc, nil
}

// FormatDistrictInfo formats a district record for chat display
func (uc *NregaUseCase) FormatDistrictInfo(rec entities.NregaRecord) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("MGNREGA data for %s (%s %s):\n\n", rec.DistrictName, rec.Month, rec.FinYear))

	lines := []struct{ icon, label, value string }{
		{"👷", "Total workers", rec.TotalWorkers},
		{"✅", "Active workers", rec.TotalActiveWorkers},
		{"🏠", "Households worked", rec.TotalHouseholdsWorked},
		{"👩", "Women persondays", rec.WomenPersondays},
		{"📅", "Avg days of employment per household", rec.AverageDaysOfEmploymentPerHousehold},
		{"💰", "Avg wage per day (₹)", rec.AverageWageRatePerDayPerPerson},
		{"🏗️", "Completed works", rec.NumberOfCompletedWorks},
		{"🚧", "Ongoing works", rec.NumberOfOngoingWorks},
		{"⏱️", "Payments within 15 days (%)", rec.PercentPaymentsGeneratedWithin15Days},
	}
	for _, l := range lines {
		// Only include fields that have values
		if l.value == "" {
			continue
		}
		result.WriteString(fmt.Sprintf("%s %s: %s\n", l.icon, l.label, l.value))
	}
	return result.String()
}

// FormatComparison formats a comparison for chat display
func (uc *NregaUseCase) FormatComparison(c Comparison) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("%s vs %s\n\n", c.District.DistrictName, c.With.DistrictName))
	for _, m := range c.Metrics {
		if m.District == "" && m.With == "" {
			continue
		}
		result.WriteString(fmt.Sprintf("• %s: %s | %s\n", strings.ReplaceAll(m.Key, "_", " "), m.District, m.With))
	}
	return result.String()
}

// HandleNaturalLanguageQuery interprets a user's free-text query using the AI service
// and returns an appropriate response string.
func (uc *NregaUseCase) HandleNaturalLanguageQuery(ctx context.Context, query string) (string, error) {
	if uc.interpreter == nil {
		return "I don't understand. Use /help to see available commands.", nil
	}
	uc.logger.Debug("interpreting natural language query", zap.String("query", query))

	districts, err := uc.ListDistricts(ctx)
	if err != nil || len(districts) == 0 {
		districts = uc.gazetteer.Names()
	}

	agentResp, err := uc.interpreter.InterpretUserQuery(ctx, query, districts)
	if err != nil {
		uc.logger.Warn("error interpreting user query", zap.Error(err))
		return "Sorry, I'm having trouble understanding right now. Please try again later or use /help.", nil
	}

	prefix := agentResp.UserMessage
	if prefix != "" {
		prefix += "\n\n"
	}

	switch agentResp.CommandName {
	case openai.CommandGetDistrictData:
		if agentResp.DistrictName == "" {
			return agentResp.UserMessage, nil
		}
		rec, err := uc.GetDistrict(ctx, agentResp.DistrictName)
		if errors.Is(err, errors.NotFound) {
			return prefix + fmt.Sprintf("No data found for %s. Use /districts to see the available ones.", agentResp.DistrictName), nil
		}
		if err != nil {
			return "", err
		}
		return prefix + uc.FormatDistrictInfo(rec), nil

	case openai.CommandCompareDistricts:
		if agentResp.DistrictName == "" || agentResp.CompareWith == "" {
			return agentResp.UserMessage, nil
		}
		c, err := uc.CompareDistricts(ctx, agentResp.DistrictName, agentResp.CompareWith)
		if errors.Is(err, errors.NotFound) {
			return prefix + "No data found for one of those districts. Use /districts to see the available ones.", nil
		}
		if err != nil {
			return "", err
		}
		return prefix + uc.FormatComparison(c), nil

	case openai.CommandGeneralQuery:
		return agentResp.UserMessage, nil

	default:
		uc.logger.Warn("agent returned unexpected command", zap.String("command", agentResp.CommandName))
		return "I'm not sure how to respond to that. You can use /help for commands.", nil
	}
}

func (uc *NregaUseCase) cached(key string, load func() (interface{}, error)) (interface{}, error) {
	if uc.cache == nil {
		return load()
	}
	if v, ok := uc.cache.Get(key); ok {
		return v, nil
	}
	gen := uc.cacheGen.Load()
	v, err := load()
	if err != nil {
		return nil, err
	}
	if uc.cacheGen.Load() == gen {
		uc.cache.Set(key, v, cache.DefaultExpiration)
	}
	return v, nil
}

func (uc *NregaUseCase) flushCache() {
	if uc.cache != nil {
		uc.cacheGen.Add(1)
		uc.cache.Flush()
	}
}
