package feed

import (
	"fmt"
	"sort"
	"time"
)

const defaultRetryDelay = 10 * time.Second

// ClassifiedError is a feed protocol error code resolved against the known table.
type ClassifiedError struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
	Recoverable bool   `json:"recoverable"`
	Fatal       bool   `json:"fatal"`
	Action      string `json:"action"`
	Raw         string `json:"raw,omitempty"`
	Known       bool   `json:"known"`
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("feed error %d: %s", e.Code, e.Message)
}

type errorInfo struct {
	message     string
	description string
	recoverable bool
	fatal       bool
	action      string
}

var errorTable = map[int]errorInfo{
	1:  {"invalid command", "the command sent is not recognised", false, false, "check the command syntax"},
	2:  {"object not found", "the requested symbol or object does not exist", false, false, "check that the symbol is correct and active"},
	3:  {"no permission", "the user is not allowed to access this resource", false, true, "check the user permissions with the provider"},
	4:  {"empty parameter", "a required parameter was not supplied", false, false, "check the command parameters"},
	5:  {"no parameters", "the command requires parameters but none were supplied", false, false, "add the required parameters"},
	6:  {"second connection with the same user", "the user is already connected in another session", true, false, "wait for the previous session to close or use another user"},
	7:  {"user without access", "the user has no access to the system", false, true, "check the credentials and account status"},
	8:  {"duplicate connection on another server", "the user is connected on another server", true, false, "wait or disconnect the other session"},
	9:  {"permissions lost", "the user lost permissions during the session", false, true, "reconnect or check the account status"},
	10: {"invalid parameter", "one of the supplied parameters is invalid", false, false, "check parameter format and values"},
	11: {"server unavailable", "the feed server is temporarily unavailable", true, false, "wait and reconnect"},
	12: {"server will be unavailable", "the feed server is about to enter maintenance", true, false, "prepare to disconnect and reconnect later"},
	13: {"invalid SUID", "the session identifier is invalid", false, true, "reconnect with new credentials"},
	14: {"request ID too large", "the request id exceeds the allowed limit", false, false, "use a smaller request id"},
	15: {"database error", "internal database error on the feed server", true, false, "retry after a few seconds"},
	16: {"news not found", "the requested news item does not exist", false, false, "check the news id"},
	17: {"service permission error", "this service is not enabled for the user", false, true, "check service-specific permissions"},
	18: {"quote quantity limit", "the quote subscription limit was reached", false, false, "cancel some subscriptions before creating new ones"},
}

var (
	reconnectCodes = map[int]struct{}{6: {}, 8: {}, 9: {}, 11: {}, 12: {}, 13: {}}
	retryCodes     = map[int]struct{}{11: {}, 15: {}}
	retryDelays    = map[int]time.Duration{
		6:  30 * time.Second,
		8:  30 * time.Second,
		11: 5 * time.Second,
		12: 60 * time.Second,
		15: 5 * time.Second,
	}

	errorCategories = map[string][]int{
		"connection": {6, 7, 8, 9, 11, 12, 13},
		"permission": {3, 7, 9, 17},
		"parameter":  {1, 4, 5, 10, 14},
		"resource":   {2, 16, 18},
		"system":     {11, 12, 15},
	}
)

// ErrorSummary describes the whole error table.
type ErrorSummary struct {
	TotalErrors      int              `json:"totalErrors"`
	RecoverableCodes []int            `json:"recoverableErrors"`
	FatalCodes       []int            `json:"fatalErrors"`
	Categories       map[string][]int `json:"errorCategories"`
}

// Classify resolves a code. Unknown codes are neither fatal nor recoverable and keep the raw message.
func Classify(code int, raw string) *ClassifiedError {
	info, ok := errorTable[code]
	if !ok {
		message := raw
		if message == "" {
			message = unknownErrorText
		}
		return &ClassifiedError{
			Code:        code,
			Message:     message,
			Description: "undocumented error code",
			Action:      "check the provider documentation or contact support",
			Raw:         raw,
		}
	}

	return &ClassifiedError{
		Code:        code,
		Message:     info.message,
		Description: info.description,
		Recoverable: info.recoverable,
		Fatal:       info.fatal,
		Action:      info.action,
		Raw:         raw,
		Known:       true,
	}
}

func IsRecoverable(code int) bool {
	return errorTable[code].recoverable
}

func IsFatal(code int) bool {
	return errorTable[code].fatal
}

func ShouldReconnect(code int) bool {
	_, ok := reconnectCodes[code]
	return ok
}

func ShouldRetryCommand(code int) bool {
	_, ok := retryCodes[code]
	return ok
}

func RetryDelay(code int) time.Duration {
	if delay, ok := retryDelays[code]; ok {
		return delay
	}
	return defaultRetryDelay
}

func Summary() ErrorSummary {
	summary := ErrorSummary{
		TotalErrors:      len(errorTable),
		RecoverableCodes: []int{},
		FatalCodes:       []int{},
		Categories:       make(map[string][]int, len(errorCategories)),
	}

	for code, info := range errorTable {
		if info.recoverable {
			summary.RecoverableCodes = append(summary.RecoverableCodes, code)
		}
		if info.fatal {
			summary.FatalCodes = append(summary.FatalCodes, code)
		}
	}
	sort.Ints(summary.RecoverableCodes)
	sort.Ints(summary.FatalCodes)

	for name, codes := range errorCategories {
		summary.Categories[name] = append([]int(nil), codes...)
	}

	return summary
}
