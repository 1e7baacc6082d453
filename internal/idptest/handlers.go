package idptest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"

	"github.com/dmitrijs2005/otpkeeper/internal/client/models"
	"github.com/dmitrijs2005/otpkeeper/internal/cryptox"
	"github.com/google/uuid"
	"github.com/kong/go-srp"
)

func (s *Server) handleAttributes(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	a, ok := s.accounts[r.URL.Query().Get("email")]
	s.mu.Unlock()

	if !ok || a.SRP == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no srp attributes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attributes": a.SRP})
}

func (s *Server) handleOTT(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string `json:"email"`
		Purpose string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request")
		return
	}

	s.mu.Lock()
	s.otts[req.Email] = fmt.Sprintf("%06d", rand.IntN(1000000))
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTT   string `json:"ott"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request")
		return
	}

	s.mu.Lock()
	code, issued := s.otts[req.Email]
	a, ok := s.accounts[req.Email]
	if issued && code == req.OTT {
		delete(s.otts, req.Email)
	}
	s.mu.Unlock()

	if !issued || code != req.OTT {
		writeError(w, http.StatusUnauthorized, "INVALID_CODE", "Invalid verification code")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "account not found")
		return
	}

	resp, err := s.primaryResponse(a, a.PlainToken)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SRPUserID string `json:"srpUserID"`
		SRPA      string `json:"srpA"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request")
		return
	}
	srpA, err := base64.StdEncoding.DecodeString(req.SRPA)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid srpA")
		return
	}

	s.mu.Lock()
	a, ok := s.byUserID[req.SRPUserID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown srp user")
		return
	}

	server := srp.NewServer(srp.GetParams(srpGroupBits), a.verifier, srp.GenKey())
	server.SetA(srpA)
	srpB := server.ComputeB()

	id := uuid.NewString()
	s.mu.Lock()
	s.srp[id] = &srpSession{account: a, server: server}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, models.SRPSession{SessionID: id, SRPB: base64.StdEncoding.EncodeToString(srpB)})
}

func (s *Server) handleVerifySession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionID"`
		SRPUserID string `json:"srpUserID"`
		SRPM1     string `json:"srpM1"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request")
		return
	}
	m1, err := base64.StdEncoding.DecodeString(req.SRPM1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid srpM1")
		return
	}

	s.mu.Lock()
	sess, ok := s.srp[req.SessionID]
	delete(s.srp, req.SessionID)
	tamper := s.TamperM2
	s.mu.Unlock()

	if !ok || sess.account.SRP.SRPUserID != req.SRPUserID {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown srp session")
		return
	}

	m2, err := sess.server.CheckM1(m1)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Incorrect credentials")
		return
	}
	if tamper {
		m2[0] ^= 0xff
	}

	resp, err := s.primaryResponse(sess.account, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	resp.SRPM2 = base64.StdEncoding.EncodeToString(m2)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionID"`
		Code      string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request")
		return
	}

	s.mu.Lock()
	a, ok := s.twoFactor[req.SessionID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown two-factor session")
		return
	}
	if req.Code != TOTPCode {
		writeError(w, http.StatusUnauthorized, "INVALID_CODE", "Invalid two-factor code")
		return
	}

	resp, err := s.keysResponse(a)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePasskeyToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ps, ok := s.passkeys[r.URL.Query().Get("sessionID")]
	var verified, expired bool
	if ok {
		verified, expired = ps.verified, ps.expired
	}
	s.mu.Unlock()

	switch {
	case !ok:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown passkey session")
	case expired:
		writeError(w, http.StatusGone, "EXPIRED", "passkey session expired")
	case !verified:
		writeError(w, http.StatusBadRequest, "PASSKEY_NOT_VERIFIED", "passkey not verified")
	default:
		resp, err := s.keysResponse(ps.account)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// primaryResponse builds the response to a successful primary proof: second
// factor sessions if the account needs them, otherwise the wrapped keys.
func (s *Server) primaryResponse(a *Account, plainToken bool) (*models.AuthResponse, error) {
	resp := &models.AuthResponse{}

	s.mu.Lock()
	if a.TwoFactor {
		resp.TwoFactorSessionID = uuid.NewString()
		s.twoFactor[resp.TwoFactorSessionID] = a
	}
	if a.Passkey {
		resp.PasskeySessionID = uuid.NewString()
		s.passkeys[resp.PasskeySessionID] = &passkeySession{account: a}
	}
	s.mu.Unlock()

	if a.TwoFactor || a.Passkey {
		return resp, nil
	}
	if plainToken {
		resp.Token = a.Token()
		return resp, nil
	}
	return s.keysResponse(a)
}

func (s *Server) keysResponse(a *Account) (*models.AuthResponse, error) {
	sealed, err := cryptox.SealBox(a.token, a.KeyAttributes.PublicKey)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{KeyAttributes: a.KeyAttributes, EncryptedToken: sealed}, nil
}
