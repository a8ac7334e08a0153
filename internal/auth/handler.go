package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-member/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-member/internal/validate"
	"github.com/ovaphlow/pitchfork/service-member/pkg/utilities"
)

// Handler exposes login, registration, refresh and logout.
type Handler struct {
	svc    *Service
	gate   *Gate
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, gate *Gate, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, gate: gate, logger: logger}
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (req LoginRequest) validate() error {
	var errs validate.Errors
	errs.Check(validate.NotBlank(req.Email), "Email should not be empty")
	if validate.NotBlank(req.Email) {
		errs.Check(validate.WellFormedEmail(req.Email), "Email must be well formed")
	}
	errs.Check(validate.NotBlank(req.Password), "Password should not be empty")
	return errs.Err()
}

func validateRegister(req RegisterRequest) error {
	var errs validate.Errors
	errs.Check(validate.NotBlank(req.Name), "Name must not be blank")
	if validate.NotBlank(req.Name) {
		errs.Check(validate.Name(req.Name), "Name can only contains alphabets")
	}
	errs.Check(validate.NotBlank(req.Email), "Email must not be blank")
	if validate.NotBlank(req.Email) {
		errs.Check(validate.StandardEmail(req.Email), "Email must match standard format")
	}
	errs.Check(req.PhoneNumber != "", "Phone number is required.")
	if req.PhoneNumber != "" {
		errs.Check(validate.MobileNumber(req.PhoneNumber), "Invalid mobile number")
	}
	errs.Check(req.Password != "", "Password is required.")
	if req.Password != "" {
		errs.Check(validate.StrongPassword(req.Password),
			"Password must be 8-20 characters long, and include uppercase, lowercase, number, and special character.")
	}
	switch {
	case len(req.Roles) == 0:
		errs.Check(false, "At least one role must be added")
	case len(req.Roles) > 1:
		errs.Check(false, "Max of 1 roles can be assigned")
	default:
		errs.Check(req.Roles[0] == defaultRole, "Member can only register as 'USER'")
	}
	return errs.Err()
}

// TokenResponse is returned by every endpoint that sets token cookies.
type TokenResponse struct {
	Message            string `json:"message"`
	AccessTokenExpiry  int64  `json:"accessTokenExpiry"`
	RefreshTokenExpiry int64  `json:"refreshTokenExpiry"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validate.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		apperr.Write(w, err)
		return
	}
	if err := req.validate(); err != nil {
		apperr.Write(w, err)
		return
	}
	p, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Debugw("login failed", "email", utilities.MaskEmail(req.Email), "err", err)
		apperr.Write(w, err)
		return
	}
	h.issue(w, *p, http.StatusOK, "Logged-in successful")
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := validate.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		apperr.Write(w, err)
		return
	}
	if err := validateRegister(req); err != nil {
		apperr.Write(w, err)
		return
	}
	p, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.logger.Debugw("registration failed", "email", utilities.MaskEmail(req.Email), "err", err)
		apperr.Write(w, err)
		return
	}
	h.issue(w, *p, http.StatusCreated, "Registration successful")
}

// Refresh rotates both cookies for the authenticated caller. When the gate
// already rotated them for this request, that pair is reported as is.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		apperr.Write(w, apperr.New(apperr.NotAuthenticated, "Member not authenticated or session expired"))
		return
	}
	if pair := FromContext(r.Context()).Rotated(); pair != nil {
		h.writeJSON(w, http.StatusOK, TokenResponse{
			Message:            "Refreshed successful",
			AccessTokenExpiry:  pair.AccessExpiry,
			RefreshTokenExpiry: pair.RefreshExpiry,
		})
		return
	}
	refresh := cookieValue(r, RefreshCookie)
	if refresh == "" {
		apperr.Write(w, apperr.New(apperr.TokenMissing, "Refresh token is missing"))
		return
	}
	pair, err := h.gate.Rotate(w, r, refresh, p)
	if err != nil {
		h.logger.Debugw("refresh failed", "err", err)
		if apperr.KindOf(err).IsAuthentication() {
			h.gate.ClearCookies(w)
		}
		apperr.Write(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, TokenResponse{
		Message:            "Refreshed successful",
		AccessTokenExpiry:  pair.AccessExpiry,
		RefreshTokenExpiry: pair.RefreshExpiry,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.gate.ClearCookies(w)
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Logged-out successful"})
}

func (h *Handler) issue(w http.ResponseWriter, p Principal, status int, message string) {
	pair, err := h.gate.IssueCookies(w, p)
	if err != nil {
		h.logger.Errorw("issue tokens", "err", err)
		apperr.Write(w, err)
		return
	}
	h.writeJSON(w, status, TokenResponse{
		Message:            message,
		AccessTokenExpiry:  pair.AccessExpiry,
		RefreshTokenExpiry: pair.RefreshExpiry,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
