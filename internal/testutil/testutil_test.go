package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EchoNotify/EchoNotify/internal/models"
)

// mockTestingT captures failures so the helpers themselves can be tested.
type mockTestingT struct {
	failed bool
	fatal  bool
}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Errorf(format string, args ...interface{}) { m.failed = true }

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.fatal = true
}

func TestAssertHTTPStatus(t *testing.T) {
	mockT := &mockTestingT{}
	AssertHTTPStatus(mockT, 200, 200, "matching")
	if mockT.failed {
		t.Error("matching status codes must not fail")
	}

	mockT = &mockTestingT{}
	AssertHTTPStatus(mockT, 200, 404, "mismatched")
	if !mockT.failed {
		t.Error("mismatched status codes must fail")
	}
}

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Body.WriteString(`{"status":"ok","result":[1,2]}`)

	mockT := &mockTestingT{}
	resp := AssertJSONResponse(mockT, rr, models.APIStatusOK)
	if mockT.failed {
		t.Error("valid envelope must not fail")
	}
	if resp.Status != models.APIStatusOK {
		t.Errorf("unexpected status %q", resp.Status)
	}

	rr = httptest.NewRecorder()
	rr.Body.WriteString(`{"status":"error"}`)
	mockT = &mockTestingT{}
	AssertJSONResponse(mockT, rr, models.APIStatusOK)
	if !mockT.failed {
		t.Error("wrong status must fail")
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	mockT := &mockTestingT{}
	req := CreateHTTPRequest(mockT, http.MethodPost, "/environment", map[string]bool{"call": true})
	if mockT.failed {
		t.Fatal("request creation failed")
	}
	if req.Method != http.MethodPost || req.Body == nil {
		t.Error("request not built as specified")
	}

	req = CreateHTTPRequest(mockT, http.MethodGet, "/status", nil)
	if req.Method != http.MethodGet {
		t.Error("nil-body request not built")
	}
}

func TestSampleRecords(t *testing.T) {
	records := SampleRecords()
	if len(records) != 2 {
		t.Fatalf("expected 2 sample records, got %d", len(records))
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			t.Errorf("sample record %q invalid: %v", rec.Key, err)
		}
	}
}
