// Package httpapi exposes the engine over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/trustedlocal/trustrewards/internal/app"
	"github.com/trustedlocal/trustrewards/internal/app/domain/hire"
	"github.com/trustedlocal/trustrewards/internal/app/domain/referral"
	"github.com/trustedlocal/trustrewards/internal/app/domain/reward"
	ledgersvc "github.com/trustedlocal/trustrewards/internal/app/services/ledger"
	rewardsvc "github.com/trustedlocal/trustrewards/internal/app/services/rewards"
	"github.com/trustedlocal/trustrewards/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app    *app.Application
	origin string
}

// NewHandler returns a router exposing the core REST API. origin is the
// public site origin used to render referral share links.
func NewHandler(application *app.Application, origin string) http.Handler {
	h := &handler{app: application, origin: strings.TrimRight(origin, "/")}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.HandleFunc("/catalog", h.catalog).Methods(http.MethodGet)
	r.HandleFunc("/leaderboard", h.leaderboard).Methods(http.MethodGet)

	r.HandleFunc("/profiles", h.ensureProfile).Methods(http.MethodPost)
	r.HandleFunc("/profiles/{id}", h.getProfile).Methods(http.MethodGet)
	r.HandleFunc("/profiles/{id}/referrals", h.profileReferrals).Methods(http.MethodGet)
	r.HandleFunc("/profiles/{id}/rewards", h.profileRewards).Methods(http.MethodGet)
	r.HandleFunc("/profiles/{id}/redemptions", h.redeem).Methods(http.MethodPost)
	r.HandleFunc("/profiles/{id}/trusted/{business}", h.trustBusiness).Methods(http.MethodPost)
	r.HandleFunc("/profiles/{id}/trusted/{business}", h.untrustBusiness).Methods(http.MethodDelete)

	r.HandleFunc("/businesses", h.onboardBusiness).Methods(http.MethodPost)
	r.HandleFunc("/businesses", h.listBusinesses).Methods(http.MethodGet)
	r.HandleFunc("/businesses/{id}", h.getBusiness).Methods(http.MethodGet)
	r.HandleFunc("/businesses/{id}/hires", h.requestHire).Methods(http.MethodPost)
	r.HandleFunc("/businesses/{id}/hires", h.businessHires).Methods(http.MethodGet)
	r.HandleFunc("/businesses/{id}/referrals", h.businessReferrals).Methods(http.MethodGet)

	r.HandleFunc("/hires/{id}", h.getHire).Methods(http.MethodGet)
	r.HandleFunc("/hires/{id}/status", h.hireStatus).Methods(http.MethodPost)

	r.HandleFunc("/referrals", h.share).Methods(http.MethodPost)
	r.HandleFunc("/referrals/{id}", h.getReferral).Methods(http.MethodGet)
	r.HandleFunc("/referrals/{id}/signup", h.referralSignup).Methods(http.MethodPost)
	r.HandleFunc("/referrals/{id}/hired", h.referralHired).Methods(http.MethodPost)

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) catalog(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Partner string `json:"partner"`
		Points  int64  `json:"points"`
		Value   int64  `json:"value"`
	}
	var out []entry
	for _, e := range h.app.Rewards.Catalog() {
		out = append(out, entry{ID: e.ID, Name: e.Name, Partner: e.Partner, Points: e.Points, Value: e.Value})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	profs, err := h.app.Profiles.Leaderboard(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profs)
}

func (h *handler) ensureProfile(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	prof, err := h.app.Profiles.EnsureProfile(r.Context(), payload.Email, payload.DisplayName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (h *handler) getProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.app.Profiles.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (h *handler) profileReferrals(w http.ResponseWriter, r *http.Request) {
	prof, err := h.app.Profiles.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	refs, err := h.app.Referrals.ListByReferrer(r.Context(), prof.UserEmail)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	type item struct {
		Referral  referral.Referral `json:"referral"`
		ShareLink string            `json:"share_link"`
	}
	out := make([]item, 0, len(refs))
	for _, ref := range refs {
		out = append(out, item{Referral: ref, ShareLink: h.app.Referrals.ShareLink(h.origin, ref)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) profileRewards(w http.ResponseWriter, r *http.Request) {
	prof, err := h.app.Profiles.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rwds, err := h.app.Rewards.ListForCustomer(r.Context(), prof.UserEmail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rwds)
}

func (h *handler) redeem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CatalogID string `json:"catalog_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	prof, err := h.app.Profiles.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rwd, err := h.app.Rewards.Redeem(r.Context(), prof, payload.CatalogID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rwd)
}

func (h *handler) trustBusiness(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	prof, err := h.app.Profiles.TrustBusiness(r.Context(), vars["id"], vars["business"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (h *handler) untrustBusiness(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	prof, err := h.app.Profiles.UntrustBusiness(r.Context(), vars["id"], vars["business"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (h *handler) onboardBusiness(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OwnerEmail  string   `json:"owner_email"`
		CompanyName string   `json:"company_name"`
		Categories  []string `json:"categories"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	biz, err := h.app.Hires.OnboardBusiness(r.Context(), payload.OwnerEmail, payload.CompanyName, payload.Categories)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, biz)
}

func (h *handler) listBusinesses(w http.ResponseWriter, r *http.Request) {
	bizs, err := h.app.Hires.ListBusinesses(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bizs)
}

func (h *handler) getBusiness(w http.ResponseWriter, r *http.Request) {
	biz, err := h.app.Hires.GetBusiness(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, biz)
}

func (h *handler) requestHire(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CustomerEmail   string `json:"customer_email"`
		CustomerName    string `json:"customer_name"`
		ServiceCategory string `json:"service_category"`
		Notes           string `json:"notes"`
		HireDate        string `json:"hire_date"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var hireDate time.Time
	if strings.TrimSpace(payload.HireDate) != "" {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(payload.HireDate))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("hire_date must be RFC3339 timestamp"))
			return
		}
		hireDate = parsed
	}

	created, err := h.app.Hires.Request(r.Context(), mux.Vars(r)["id"],
		payload.CustomerEmail, payload.CustomerName, payload.ServiceCategory, payload.Notes, hireDate)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) businessHires(w http.ResponseWriter, r *http.Request) {
	hires, err := h.app.Hires.ListByBusiness(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hires)
}

func (h *handler) businessReferrals(w http.ResponseWriter, r *http.Request) {
	refs, err := h.app.Referrals.ListByBusiness(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

func (h *handler) getHire(w http.ResponseWriter, r *http.Request) {
	got, err := h.app.Hires.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *handler) hireStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := hire.ParseStatus(strings.ToLower(strings.TrimSpace(payload.Status)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Hires.Transition(r.Context(), mux.Vars(r)["id"], status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) share(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ReferrerEmail string `json:"referrer_email"`
		BusinessID    string `json:"business_id"`
		Channel       string `json:"channel"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	created, err := h.app.Referrals.Share(r.Context(), payload.ReferrerEmail, payload.BusinessID, payload.Channel)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Referral  referral.Referral `json:"referral"`
		ShareLink string            `json:"share_link"`
	}{
		Referral:  created,
		ShareLink: h.app.Referrals.ShareLink(h.origin, created),
	})
}

func (h *handler) getReferral(w http.ResponseWriter, r *http.Request) {
	ref, err := h.app.Referrals.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (h *handler) referralSignup(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ReferredEmail string `json:"referred_email"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Referrals.MarkSignedUp(r.Context(), mux.Vars(r)["id"], payload.ReferredEmail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) referralHired(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		HireID string `json:"hire_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Referrals.MarkHired(r.Context(), mux.Vars(r)["id"], payload.HireID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, hire.ErrInvalidTransition),
		errors.Is(err, referral.ErrInvalidTransition),
		errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ledgersvc.ErrInsufficientBalance):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, reward.ErrUnknownCatalogEntry),
		errors.Is(err, referral.ErrUnknownChannel),
		errors.Is(err, hire.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, rewardsvc.ErrCodeCollision):
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
