package member

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-member/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-member/internal/auth"
	"github.com/ovaphlow/pitchfork/service-member/internal/member/entity"
	"github.com/ovaphlow/pitchfork/service-member/internal/validate"
)

// Handler exposes HTTP endpoints for member administration.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		apperr.Write(w, apperr.New(apperr.NotAuthenticated, "Member not authenticated or session expired"))
		return
	}
	dto, err := h.svc.Current(r.Context(), p.Email)
	if err != nil {
		h.fail(w, "current member", err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	out, err := h.svc.List(r.Context(), page, showInactive(r))
	if err != nil {
		h.fail(w, "list members", err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	page, err := pageRequest(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	q := r.URL.Query()
	c := entity.Criteria{
		Name:  q.Get("name"),
		Email: q.Get("email"),
		Role:  q.Get("role"),
	}
	out, err := h.svc.Search(r.Context(), c, page, showInactive(r))
	if err != nil {
		h.fail(w, "search members", err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := validate.DecodeJSON(w, r, &req); err != nil {
		apperr.Write(w, err)
		return
	}
	if err := validateUpdate(req); err != nil {
		apperr.Write(w, err)
		return
	}
	dto, err := h.svc.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.fail(w, "update member", err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, "delete member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateUpdate(req UpdateRequest) error {
	var errs validate.Errors
	errs.Check(validate.Name(req.Name), "Name must be 1-30 characters and can only contains alphabets")
	errs.Check(req.PhoneNumber != "", "Phone number is required.")
	if req.PhoneNumber != "" {
		errs.Check(validate.MobileNumber(req.PhoneNumber), "Invalid mobile number")
	}
	errs.Check(len(req.Roles) > 0, "At least one role must be added")
	errs.Check(len(req.Roles) <= 10, "Max of 10 roles can be assigned")
	for _, role := range req.Roles {
		if !validate.NotBlank(role) {
			errs.Check(false, "Roles must not be blank")
			break
		}
	}
	return errs.Err()
}

func pageRequest(r *http.Request) (PageRequest, error) {
	q := r.URL.Query()
	var errs validate.Errors
	req := PageRequest{Size: DefaultPageSize}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		errs.Check(err == nil && n >= 0, "page must be a non-negative integer")
		errs.Check(err != nil || n <= MaxPage, "page must not exceed "+strconv.Itoa(MaxPage))
		req.Page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		errs.Check(err == nil && n > 0, "size must be a positive integer")
		req.Size = n
	}
	if err := errs.Err(); err != nil {
		return PageRequest{}, err
	}
	return req, nil
}

func showInactive(r *http.Request) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get("showInactive"))
	return b
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if apperr.KindOf(err) == apperr.Unknown {
		h.logger.Errorw(op+" failed", "err", err)
	} else {
		h.logger.Debugw(op+" rejected", "err", err)
	}
	apperr.Write(w, err)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
