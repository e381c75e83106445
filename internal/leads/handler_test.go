package leads

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/validator"

	"github.com/gin-gonic/gin"
)

func newTestRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewHandler(f.svc, validator.New())
	engine := gin.New()
	engine.POST("/leads/email", h.HandleInboundEmail)
	engine.GET("/leads/recent", h.HandleRecentLeads)
	engine.GET("/stats", h.HandleStats)
	return engine
}

func postEmail(engine *gin.Engine, body string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(map[string]string{
		"subject": "New Lead",
		"from":    "leads@gubagoo.com",
		"body":    body,
	})
	req := httptest.NewRequest(http.MethodPost, "/leads/email", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHandleInboundEmailFinalized(t *testing.T) {
	f := newFixture()
	f.mappings.bySession["sess-abc"] = matchedMapping()
	engine := newTestRouter(f)

	w := postEmail(engine, sampleEmailBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var disp Disposition
	if err := json.Unmarshal(w.Body.Bytes(), &disp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if disp.Status != StatusFinalized || disp.LeadID != "LEAD-42" {
		t.Fatalf("disposition = %+v", disp)
	}
}

func TestHandleInboundEmailPending(t *testing.T) {
	f := newFixture()
	engine := newTestRouter(f)

	w := postEmail(engine, sampleEmailBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var disp Disposition
	if err := json.Unmarshal(w.Body.Bytes(), &disp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if disp.Status != StatusPending || disp.Reason != ReasonNoMatchingAttribution {
		t.Fatalf("disposition = %+v", disp)
	}
}

func TestHandleInboundEmailMalformed(t *testing.T) {
	f := newFixture()
	engine := newTestRouter(f)

	w := postEmail(engine, "no adf here")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleInboundEmailMissingBody(t *testing.T) {
	f := newFixture()
	engine := newTestRouter(f)

	req := httptest.NewRequest(http.MethodPost, "/leads/email", strings.NewReader(`{"subject":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if f.store.writeCount() != 0 || len(f.store.emailLog) != 0 {
		t.Fatal("rejected request must not reach the store")
	}
}

func TestHandleRecentLeadsLimitValidation(t *testing.T) {
	f := newFixture()
	engine := newTestRouter(f)

	req := httptest.NewRequest(http.MethodGet, "/leads/recent?limit=5000", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
