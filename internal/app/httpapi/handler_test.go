package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	app "github.com/trustedlocal/trustrewards/internal/app"
)

const testAuthToken = "test-token"

func newTestServer(t *testing.T) (*httptest.Server, *app.Application) {
	t.Helper()

	application, err := app.New(app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() {
		if err := application.Stop(context.Background()); err != nil {
			t.Errorf("stop application: %v", err)
		}
	})

	handler := WrapWithAuth(NewHandler(application, "https://trustedlocal.example"), []string{testAuthToken}, nil)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, application
}

func doJSON(t *testing.T, server *httptest.Server, method, path string, payload, out interface{}) int {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, server.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAuthGuardsAPI(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := server.Client().Get(server.URL + "/catalog")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/catalog", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err = server.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}

	// Health stays open.
	resp, err = server.Client().Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}
}

func TestCatalogListsFixedEntries(t *testing.T) {
	server, _ := newTestServer(t)

	var entries []struct {
		ID     string `json:"id"`
		Points int64  `json:"points"`
		Value  int64  `json:"value"`
	}
	if code := doJSON(t, server, http.MethodGet, "/catalog", nil, &entries); code != http.StatusOK {
		t.Fatalf("catalog status: %d", code)
	}
	if len(entries) != 6 {
		t.Fatalf("expected 6 catalog entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.ID == "" || e.Points <= 0 || e.Value <= 0 {
			t.Fatalf("malformed entry: %+v", e)
		}
	}
}

func TestReferralFlowEndToEnd(t *testing.T) {
	server, _ := newTestServer(t)

	var biz struct {
		ID         string
		TrustScore int64
		TrustRank  string
	}
	code := doJSON(t, server, http.MethodPost, "/businesses", map[string]interface{}{
		"owner_email":  "owner@example.com",
		"company_name": "Sparkle Cleaning",
		"categories":   []string{"cleaning"},
	}, &biz)
	if code != http.StatusCreated {
		t.Fatalf("onboard business status: %d", code)
	}
	if biz.TrustRank != "bronze" || biz.TrustScore != 0 {
		t.Fatalf("unexpected new business: %+v", biz)
	}

	var prof struct {
		ID           string
		UserEmail    string
		ReferralCode string
		TotalPoints  int64
	}
	if code := doJSON(t, server, http.MethodPost, "/profiles", map[string]string{
		"email":        "referrer@example.com",
		"display_name": "Ref Errer",
	}, &prof); code != http.StatusOK {
		t.Fatalf("ensure profile status: %d", code)
	}
	if !strings.HasPrefix(prof.ReferralCode, "REF") {
		t.Fatalf("expected REF-prefixed code, got %s", prof.ReferralCode)
	}

	var shared struct {
		Referral struct {
			ID     string
			Status string
		} `json:"referral"`
		ShareLink string `json:"share_link"`
	}
	if code := doJSON(t, server, http.MethodPost, "/referrals", map[string]string{
		"referrer_email": "referrer@example.com",
		"business_id":    biz.ID,
		"channel":        "email",
	}, &shared); code != http.StatusCreated {
		t.Fatalf("share status: %d", code)
	}
	wantLink := fmt.Sprintf("https://trustedlocal.example/refer/%s?business=%s", prof.ReferralCode, biz.ID)
	if shared.ShareLink != wantLink {
		t.Fatalf("share link = %s, want %s", shared.ShareLink, wantLink)
	}
	if shared.Referral.Status != "pending" {
		t.Fatalf("expected pending referral, got %s", shared.Referral.Status)
	}

	if code := doJSON(t, server, http.MethodPost, "/referrals/"+shared.Referral.ID+"/signup", map[string]string{
		"referred_email": "friend@example.com",
	}, nil); code != http.StatusOK {
		t.Fatalf("signup status: %d", code)
	}

	var hired struct {
		ID     string
		Status string
	}
	if code := doJSON(t, server, http.MethodPost, "/businesses/"+biz.ID+"/hires", map[string]string{
		"customer_email":   "friend@example.com",
		"customer_name":    "Friend",
		"service_category": "cleaning",
	}, &hired); code != http.StatusCreated {
		t.Fatalf("request hire status: %d", code)
	}
	if hired.Status != "pending" {
		t.Fatalf("expected pending hire, got %s", hired.Status)
	}

	if code := doJSON(t, server, http.MethodPost, "/referrals/"+shared.Referral.ID+"/hired", map[string]string{
		"hire_id": hired.ID,
	}, nil); code != http.StatusOK {
		t.Fatalf("bind hire status: %d", code)
	}

	for _, status := range []string{"confirmed", "completed"} {
		if code := doJSON(t, server, http.MethodPost, "/hires/"+hired.ID+"/status", map[string]string{
			"status": status,
		}, nil); code != http.StatusOK {
			t.Fatalf("transition to %s status: %d", status, code)
		}
	}

	// Completion raised the trust score and rewarded the referral.
	if code := doJSON(t, server, http.MethodGet, "/businesses/"+biz.ID, nil, &biz); code != http.StatusOK {
		t.Fatalf("get business status: %d", code)
	}
	if biz.TrustScore != 10 || biz.TrustRank != "bronze" {
		t.Fatalf("after completion: score=%d rank=%s", biz.TrustScore, biz.TrustRank)
	}

	var ref struct {
		Status        string
		PointsAwarded int64
	}
	if code := doJSON(t, server, http.MethodGet, "/referrals/"+shared.Referral.ID, nil, &ref); code != http.StatusOK {
		t.Fatalf("get referral status: %d", code)
	}
	if ref.Status != "rewarded" || ref.PointsAwarded != 25 {
		t.Fatalf("expected rewarded/25, got %s/%d", ref.Status, ref.PointsAwarded)
	}

	if code := doJSON(t, server, http.MethodGet, "/profiles/"+prof.ID, nil, &prof); code != http.StatusOK {
		t.Fatalf("get profile status: %d", code)
	}
	if prof.TotalPoints != 25 {
		t.Fatalf("expected 25 referral points, got %d", prof.TotalPoints)
	}

	var board []struct {
		ID          string
		TotalPoints int64
	}
	if code := doJSON(t, server, http.MethodGet, "/leaderboard", nil, &board); code != http.StatusOK {
		t.Fatalf("leaderboard status: %d", code)
	}
	if len(board) != 1 || board[0].ID != prof.ID {
		t.Fatalf("unexpected leaderboard: %+v", board)
	}
}

func TestHireTransitionRules(t *testing.T) {
	server, _ := newTestServer(t)

	var biz struct{ ID string }
	doJSON(t, server, http.MethodPost, "/businesses", map[string]interface{}{
		"owner_email":  "owner@example.com",
		"company_name": "Sparkle Cleaning",
	}, &biz)

	var hired struct{ ID string }
	doJSON(t, server, http.MethodPost, "/businesses/"+biz.ID+"/hires", map[string]string{
		"customer_email": "cust@example.com",
	}, &hired)

	// pending -> completed skips confirmation.
	if code := doJSON(t, server, http.MethodPost, "/hires/"+hired.ID+"/status", map[string]string{
		"status": "completed",
	}, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 for skipped confirmation, got %d", code)
	}

	if code := doJSON(t, server, http.MethodPost, "/hires/"+hired.ID+"/status", map[string]string{
		"status": "vaporised",
	}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", code)
	}
}

func TestRedemptionFlow(t *testing.T) {
	server, application := newTestServer(t)

	var prof struct {
		ID        string
		UserEmail string
	}
	doJSON(t, server, http.MethodPost, "/profiles", map[string]string{
		"email": "cust@example.com",
	}, &prof)

	// An empty balance cannot redeem.
	if code := doJSON(t, server, http.MethodPost, "/profiles/"+prof.ID+"/redemptions", map[string]string{
		"catalog_id": "amazon_10",
	}, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on empty balance, got %d", code)
	}

	if _, err := application.Ledger.Credit(context.Background(), prof.ID, 100); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	var rwd struct {
		ID             string
		Status         string
		RedemptionCode string
		PointsCost     int64
	}
	if code := doJSON(t, server, http.MethodPost, "/profiles/"+prof.ID+"/redemptions", map[string]string{
		"catalog_id": "amazon_10",
	}, &rwd); code != http.StatusCreated {
		t.Fatalf("redeem status: %d", code)
	}
	if rwd.Status != "pending" || rwd.PointsCost != 100 {
		t.Fatalf("unexpected reward: %+v", rwd)
	}
	if !strings.HasPrefix(rwd.RedemptionCode, "RWD") {
		t.Fatalf("expected RWD-prefixed code, got %s", rwd.RedemptionCode)
	}

	var history []struct{ ID string }
	if code := doJSON(t, server, http.MethodGet, "/profiles/"+prof.ID+"/rewards", nil, &history); code != http.StatusOK {
		t.Fatalf("reward history status: %d", code)
	}
	if len(history) != 1 || history[0].ID != rwd.ID {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestUnknownProfileReturnsNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	if code := doJSON(t, server, http.MethodGet, "/profiles/no-such-id", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}
