package stream

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/tradewire/alpacabridge/config"
	"github.com/tradewire/alpacabridge/errs"
)

// Venue control codes on the market-data sockets that indicate an
// entitlement problem rather than a transport fault.
const (
	codeNotAuthenticated         = 401
	codeAuthFailed               = 402
	codeInsufficientSubscription = 409
)

// authFrame builds the credential frame for a streaming handshake. An OAuth
// access token takes precedence over a key pair, mirroring the REST client.
func authFrame(action string, creds config.Credentials) ([]byte, error) {
	msg := authAction{Action: action}
	if creds.AccessToken != "" {
		msg.Token = creds.AccessToken
	} else {
		msg.Key = creds.APIKey
		msg.Secret = creds.APISecret
	}
	return json.Marshal(msg)
}

// DataHandshake authenticates a market-data socket: the venue greets with a
// connected control message, we reply with credentials, and it answers with
// either an authenticated confirmation or an error control message.
func DataHandshake(creds config.Credentials) Handshake {
	return func(ctx context.Context, conn Conn) error {
		if err := expectControl(ctx, conn, "connected"); err != nil {
			return err
		}
		frame, err := authFrame("auth", creds)
		if err != nil {
			return fmt.Errorf("encode auth frame: %w", err)
		}
		if err := conn.Write(ctx, frame); err != nil {
			return errs.New("alpaca", errs.CodeNetwork,
				errs.WithMessage("write auth frame"), errs.WithCause(err))
		}
		return expectControl(ctx, conn, "authenticated")
	}
}

func expectControl(ctx context.Context, conn Conn, wantMsg string) error {
	data, err := conn.Read(ctx)
	if err != nil {
		return errs.New("alpaca", errs.CodeNetwork,
			errs.WithMessage("read handshake frame"), errs.WithCause(err))
	}
	var msgs []marketMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return errs.New("alpaca", errs.CodeDataIntegrity,
			errs.WithMessage("malformed handshake frame"), errs.WithCause(err))
	}
	for _, msg := range msgs {
		switch msg.Type {
		case "success":
			if msg.Msg == wantMsg {
				return nil
			}
		case "error":
			code := errs.CodeVenueRejection
			switch msg.Code {
			case codeNotAuthenticated, codeAuthFailed, codeInsufficientSubscription:
				code = errs.CodeAuth
			}
			return errs.New("alpaca", code,
				errs.WithRawCode(fmt.Sprintf("%d", msg.Code)),
				errs.WithRawMessage(msg.Msg))
		}
	}
	return errs.New("alpaca", errs.CodeDataIntegrity,
		errs.WithMessage(fmt.Sprintf("handshake: expected %q control message", wantMsg)))
}

// TradingHandshake authenticates the trading socket and registers for the
// trade-update stream.
func TradingHandshake(creds config.Credentials) Handshake {
	return func(ctx context.Context, conn Conn) error {
		frame, err := authFrame("authenticate", creds)
		if err != nil {
			return fmt.Errorf("encode auth frame: %w", err)
		}
		if err := conn.Write(ctx, frame); err != nil {
			return errs.New("alpaca", errs.CodeNetwork,
				errs.WithMessage("write auth frame"), errs.WithCause(err))
		}

		if err := expectAuthorization(ctx, conn); err != nil {
			return err
		}

		listen, err := json.Marshal(listenAction{Action: "listen", Data: listenData{Streams: []string{"trade_updates"}}})
		if err != nil {
			return fmt.Errorf("encode listen frame: %w", err)
		}
		if err := conn.Write(ctx, listen); err != nil {
			return errs.New("alpaca", errs.CodeNetwork,
				errs.WithMessage("write listen frame"), errs.WithCause(err))
		}
		return nil
	}
}

func expectAuthorization(ctx context.Context, conn Conn) error {
	data, err := conn.Read(ctx)
	if err != nil {
		return errs.New("alpaca", errs.CodeNetwork,
			errs.WithMessage("read authorization frame"), errs.WithCause(err))
	}
	var env tradingEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Stream != "authorization" {
		return errs.New("alpaca", errs.CodeDataIntegrity,
			errs.WithMessage("handshake: expected authorization frame"))
	}
	var result tradingAuthResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return errs.New("alpaca", errs.CodeDataIntegrity,
			errs.WithMessage("malformed authorization frame"), errs.WithCause(err))
	}
	if result.Status != "authorized" {
		return errs.New("alpaca", errs.CodeAuth,
			errs.WithRawMessage(result.Status),
			errs.WithMessage("trading stream authorization refused"))
	}
	return nil
}
