package linksync

import (
	"errors"
	"fmt"
)

// ResultStatus is the outcome class shown to the triggering surface.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultWarning ResultStatus = "warning"
	ResultError   ResultStatus = "error"
)

// Result is the status/title/message triple returned to the CLI or scheduler.
type Result struct {
	Status  ResultStatus
	Title   string
	Message string
}

func (r Result) String() string {
	return fmt.Sprintf("[%s] %s %s", r.Status, r.Title, r.Message)
}

// OK reports whether the result is not an error.
func (r Result) OK() bool { return r.Status != ResultError }

func successResult(title, msg string) Result {
	return Result{Status: ResultSuccess, Title: title, Message: msg}
}

func warningResult(title, msg string) Result {
	return Result{Status: ResultWarning, Title: title, Message: msg}
}

// errorResult renders a remote-side failure for the user.
func errorResult(err error) Result {
	var rej *RemoteRejection
	var ae *AuthError
	var te *TransportError
	switch {
	case errors.Is(err, ErrSiteRemoved):
		return Result{Status: ResultError, Title: "Site removed!", Message: err.Error()}
	case errors.As(err, &ae):
		return Result{Status: ResultError, Title: "Authentication failed!", Message: ae.Error()}
	case errors.As(err, &rej):
		return Result{Status: ResultError, Title: fmt.Sprintf("Error - %d", rej.StatusCode), Message: rej.Error()}
	case errors.As(err, &te):
		return Result{Status: ResultError, Title: "Connection error!", Message: te.Error()}
	default:
		return Result{Status: ResultError, Title: "Error!", Message: err.Error()}
	}
}
