package hours_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"daycare/internal/hours"
)

var (
	checkIn  = time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)
	checkOut = time.Date(2024, time.March, 1, 17, 30, 0, 0, time.UTC)
)

func TestSkipModeComputesLocally(t *testing.T) {
	c := hours.New("http://unused", true)
	res, err := c.RecordProgramHours(context.Background(), hours.Request{
		ChildID: "c1", AttendanceID: "a1",
		CheckInTime: checkIn, CheckOutTime: checkOut, Date: "2024-03-01",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Hours != 9.5 {
		t.Fatalf("expected 9.5 hours, got %v", res.Hours)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
}

func TestRejectsInvertedTimes(t *testing.T) {
	c := hours.New("http://unused", true)
	_, err := c.RecordProgramHours(context.Background(), hours.Request{
		ChildID: "c1", CheckInTime: checkOut, CheckOutTime: checkIn,
	})
	if err == nil {
		t.Fatal("check-out before check-in must error")
	}
}

func TestForwardsServiceErrorsArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req hours.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(hours.Result{Hours: 0, Errors: []string{"program not configured"}})
	}))
	defer srv.Close()

	c := hours.New(srv.URL, false)
	res, err := c.RecordProgramHours(context.Background(), hours.Request{
		ChildID: "c1", CheckInTime: checkIn, CheckOutTime: checkOut, Date: "2024-03-01",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "program not configured" {
		t.Fatalf("errors array not forwarded: %v", res.Errors)
	}
}

func TestServiceFailureIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := hours.New(srv.URL, false)
	if _, err := c.RecordProgramHours(context.Background(), hours.Request{
		ChildID: "c1", CheckInTime: checkIn, CheckOutTime: checkOut,
	}); err == nil {
		t.Fatal("5xx must surface as an error")
	}
}
