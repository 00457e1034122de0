package anc

import (
	"encoding/json"
	"time"
)

// Facility is one bookable resource from the catalog. Immutable once fetched;
// lives only for the duration of a run.
type Facility struct {
	ID           string
	Name         string
	FacilityType string
	Address      string
}

// Window is one open reservation slot on a calendar date.
type Window struct {
	Date      time.Time
	StartTime string
	EndTime   string
}

// --- wire formats (from the site's REST surface) ---

type loginResponse struct {
	Body struct {
		Result struct {
			Success bool `json:"success"`
		} `json:"result"`
	} `json:"body"`
}

type facilityListResponse struct {
	Body struct {
		Items []facilityItem `json:"items"`
	} `json:"body"`
}

type facilityItem struct {
	ID         facilityID `json:"id"`
	Name       string     `json:"name"`
	TypeName   string     `json:"type_name"`
	CenterName string     `json:"center_name"`
}

// facilityID tolerates the catalog's mix of numeric and string ids.
type facilityID string

func (f *facilityID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = facilityID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = facilityID(n.String())
	return nil
}

type availabilityResponse struct {
	Body struct {
		Details struct {
			DailyDetails []dailyDetail `json:"daily_details"`
		} `json:"details"`
	} `json:"body"`
}

type dailyDetail struct {
	Date  string     `json:"date"`
	Times []timeSlot `json:"times"`
}

type timeSlot struct {
	Available bool   `json:"available"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// sameDate compares by calendar date, tolerating formatting variance in the
// feed's date strings.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
