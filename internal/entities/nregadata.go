// Package entities contains the core domain objects for the NREGA Mitra backend
package entities

import (
	"reflect"
	"strings"
	"time"
)

// NregaRecord represents one district-month MGNREGA performance record.
// Values are kept exactly as the upstream data API returns them.
type NregaRecord struct {
	FinYear      string `json:"fin_year" bson:"fin_year"`
	Month        string `json:"month" bson:"month"`
	StateCode    string `json:"state_code" bson:"state_code"`
	StateName    string `json:"state_name" bson:"state_name"`
	DistrictCode string `json:"district_code" bson:"district_code"`
	DistrictName string `json:"district_name" bson:"district_name"`

	ApprovedLabourBudget                 string `json:"Approved_Labour_Budget" bson:"Approved_Labour_Budget"`
	AverageWageRatePerDayPerPerson       string `json:"Average_Wage_rate_per_day_per_person" bson:"Average_Wage_rate_per_day_per_person"`
	AverageDaysOfEmploymentPerHousehold  string `json:"Average_days_of_employment_provided_per_Household" bson:"Average_days_of_employment_provided_per_Household"`
	DifferentlyAbledPersonsWorked        string `json:"Differently_abled_persons_worked" bson:"Differently_abled_persons_worked"`
	MaterialAndSkilledWages              string `json:"Material_and_skilled_Wages" bson:"Material_and_skilled_Wages"`
	NumberOfCompletedWorks               string `json:"Number_of_Completed_Works" bson:"Number_of_Completed_Works"`
	NumberOfGPsWithNilExp                string `json:"Number_of_GPs_with_NIL_exp" bson:"Number_of_GPs_with_NIL_exp"`
	NumberOfOngoingWorks                 string `json:"Number_of_Ongoing_Works" bson:"Number_of_Ongoing_Works"`
	PersondaysOfCentralLiabilitySoFar    string `json:"Persondays_of_Central_Liability_so_far" bson:"Persondays_of_Central_Liability_so_far"`
	SCPersondays                         string `json:"SC_persondays" bson:"SC_persondays"`
	SCWorkersAgainstActiveWorkers        string `json:"SC_workers_against_active_workers" bson:"SC_workers_against_active_workers"`
	STPersondays                         string `json:"ST_persondays" bson:"ST_persondays"`
	STWorkersAgainstActiveWorkers        string `json:"ST_workers_against_active_workers" bson:"ST_workers_against_active_workers"`
	TotalAdmExpenditure                  string `json:"Total_Adm_Expenditure" bson:"Total_Adm_Expenditure"`
	TotalExp                             string `json:"Total_Exp" bson:"Total_Exp"`
	TotalHouseholdsWorked                string `json:"Total_Households_Worked" bson:"Total_Households_Worked"`
	TotalIndividualsWorked               string `json:"Total_Individuals_Worked" bson:"Total_Individuals_Worked"`
	TotalActiveJobCards                  string `json:"Total_No_of_Active_Job_Cards" bson:"Total_No_of_Active_Job_Cards"`
	TotalActiveWorkers                   string `json:"Total_No_of_Active_Workers" bson:"Total_No_of_Active_Workers"`
	TotalHHsCompleted100Days             string `json:"Total_No_of_HHs_completed_100_Days_of_Wage_Employment" bson:"Total_No_of_HHs_completed_100_Days_of_Wage_Employment"`
	TotalJobCardsIssued                  string `json:"Total_No_of_JobCards_issued" bson:"Total_No_of_JobCards_issued"`
	TotalWorkers                         string `json:"Total_No_of_Workers" bson:"Total_No_of_Workers"`
	TotalWorksTakenUp                    string `json:"Total_No_of_Works_Takenup" bson:"Total_No_of_Works_Takenup"`
	Wages                                string `json:"Wages" bson:"Wages"`
	WomenPersondays                      string `json:"Women_Persondays" bson:"Women_Persondays"`
	PercentCategoryBWorks                string `json:"percent_of_Category_B_Works" bson:"percent_of_Category_B_Works"`
	PercentExpenditureAgricultureAllied  string `json:"percent_of_Expenditure_on_Agriculture_Allied_Works" bson:"percent_of_Expenditure_on_Agriculture_Allied_Works"`
	PercentNRMExpenditure                string `json:"percent_of_NRM_Expenditure" bson:"percent_of_NRM_Expenditure"`
	PercentPaymentsGeneratedWithin15Days string `json:"percentage_payments_gererated_within_15_days" bson:"percentage_payments_gererated_within_15_days"`
	Remarks                              string `json:"Remarks" bson:"Remarks"`
}

// Metric is a single named value of a record
type Metric struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// identity fields are not metrics
var identityFields = map[string]bool{
	"fin_year":      true,
	"month":         true,
	"state_code":    true,
	"state_name":    true,
	"district_code": true,
	"district_name": true,
}

var recordFields = buildFieldIndex()

type fieldRef struct {
	key   string
	index int
}

func buildFieldIndex() []fieldRef {
	t := reflect.TypeOf(NregaRecord{})
	refs := make([]fieldRef, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		key := strings.Split(t.Field(i).Tag.Get("json"), ",")[0]
		refs = append(refs, fieldRef{key: key, index: i})
	}
	return refs
}

// FieldNames returns every upstream field name in declaration order
func FieldNames() []string {
	names := make([]string, len(recordFields))
	for i, f := range recordFields {
		names[i] = f.key
	}
	return names
}

// SetField assigns the value for an upstream field name.
// It reports false when the name is not part of the record.
func (r *NregaRecord) SetField(key, value string) bool {
	for _, f := range recordFields {
		if f.key == key {
			reflect.ValueOf(r).Elem().Field(f.index).SetString(value)
			return true
		}
	}
	return false
}

// Metrics returns the non-identifying fields of the record in declaration order
func (r NregaRecord) Metrics() []Metric {
	v := reflect.ValueOf(r)
	metrics := make([]Metric, 0, len(recordFields)-len(identityFields))
	for _, f := range recordFields {
		if identityFields[f.key] {
			continue
		}
		metrics = append(metrics, Metric{Key: f.key, Value: v.Field(f.index).String()})
	}
	return metrics
}

// DistrictKey normalizes a district name into the form used for lookups
func DistrictKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// StateKey normalizes a state name the same way district names are normalized
func StateKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// fiscal year starts in April
var fiscalMonths = []string{"APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC", "JAN", "FEB", "MAR"}

// FiscalMonthIndex maps a month name to its position in the Indian fiscal year
// (April is 1, March is 12). Unknown names map to 0.
func FiscalMonthIndex(month string) int {
	m := strings.ToUpper(strings.TrimSpace(month))
	if len(m) < 3 {
		return 0
	}
	for i, name := range fiscalMonths {
		if m[:3] == name {
			return i + 1
		}
	}
	return 0
}

// Newer reports whether a describes a later period than b
func Newer(a, b NregaRecord) bool {
	if a.FinYear != b.FinYear {
		return a.FinYear > b.FinYear
	}
	return FiscalMonthIndex(a.Month) > FiscalMonthIndex(b.Month)
}

// Refresh run outcomes
const (
	RunSucceeded = "succeeded"
	RunSkipped   = "skipped"
	RunFailed    = "failed"
)

// RefreshRun records the outcome of one fetch-and-replace pass
type RefreshRun struct {
	ID         string    `json:"id" bson:"_id"`
	StartedAt  time.Time `json:"started_at" bson:"started_at"`
	FinishedAt time.Time `json:"finished_at" bson:"finished_at"`
	Fetched    int       `json:"fetched" bson:"fetched"`
	Matched    int       `json:"matched" bson:"matched"`
	Stored     int       `json:"stored" bson:"stored"`
	Status     string    `json:"status" bson:"status"`
	Error      string    `json:"error,omitempty" bson:"error,omitempty"`
}
