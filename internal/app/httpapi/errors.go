package httpapi

import (
	"errors"
	"net/http"

	"github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	"github.com/R3E-Network/raffle_layer/internal/httputil"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{raffle.ErrInsufficientPayment, http.StatusBadRequest, "insufficient_payment"},
	{raffle.ErrInvalidEntrant, http.StatusBadRequest, "invalid_entrant"},
	{raffle.ErrEmptyRandomness, http.StatusBadRequest, "empty_randomness"},
	{raffle.ErrRaffleNotOpen, http.StatusConflict, "raffle_not_open"},
	{raffle.ErrUpkeepNotNeeded, http.StatusConflict, "upkeep_not_needed"},
	{raffle.ErrRoundWedged, http.StatusConflict, "round_wedged"},
	{raffle.ErrNoPayoutPending, http.StatusConflict, "no_payout_pending"},
	{raffle.ErrStaleOrUnknownRequest, http.StatusAccepted, "stale_request"},
	{raffle.ErrTransferFailed, http.StatusBadGateway, "transfer_failed"},
	{raffle.ErrOracleUnavailable, http.StatusServiceUnavailable, "oracle_unavailable"},
	{raffle.ErrPlayerIndexOutOfRange, http.StatusNotFound, "player_not_found"},
}

// statusFor maps a coordinator error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	var details map[string]interface{}
	var notNeeded *raffle.UpkeepNotNeededError
	if errors.As(err, &notNeeded) {
		details = map[string]interface{}{
			"balance":     notNeeded.Balance.String(),
			"num_players": notNeeded.NumPlayers,
			"state":       notNeeded.State.String(),
			"elapsed":     notNeeded.Elapsed.Seconds(),
			"interval":    notNeeded.Interval.Seconds(),
		}
	}
	httputil.WriteError(w, status, code, err.Error(), details)
}

func badRequest(w http.ResponseWriter, err error) {
	httputil.WriteError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
}
