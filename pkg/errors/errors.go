// SPDX-License-Identifier: Apache-2.0

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderRateLimited     Code = "provider.upstream.rate_limited"
	CodeProviderNotFound        Code = "provider.registry.not_found"

	CodeEmbeddingUnavailable Code = "embedding.embed.unavailable"

	CodeIndexSearchFailure  Code = "index.search.failure"
	CodeIndexStoreFailure   Code = "index.store.failure"
	CodeIndexCatalogFailure Code = "index.catalog.failure"

	CodeRetrievalUnavailable Code = "retrieval.search.unavailable"

	CodeLookupParamsInvalid Code = "lookup.params.invalid"
	CodeLookupFailure       Code = "lookup.execute.failure"

	CodeOrchestratorInvalidInput Code = "orchestrator.request.invalid_input"
	CodeOrchestratorFailure      Code = "orchestrator.request.failure"

	CodeStoreDatabaseFailure Code = "store.database.failure"
	CodeStoreInvalidInput    Code = "store.invalid_input"

	CodeChannelTokenInvalid     Code = "channel.token.invalid"
	CodeChannelTokenCheckFailed Code = "channel.token.check_failed"
	CodeChannelBackendFailure   Code = "channel.backend.failure"

	CodeCLIInputInvalid Code = "cli.input.invalid"
	CodeCLISetupFailure Code = "cli.setup.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldChatID(value int64) Attr {
	return Field("chat_id", value)
}

func FieldDocument(value string) Attr {
	return Field("document", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldQuery(value string) Attr {
	return Field("query", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeOrchestratorFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

// IsRecoverable reports whether the error degrades to "no grounding" rather
// than failing the request: embedder and index outages are recoverable,
// gateway failures are not.
func IsRecoverable(err error) bool {
	switch CodeOf(err) {
	case CodeEmbeddingUnavailable, CodeRetrievalUnavailable,
		CodeIndexSearchFailure, CodeIndexCatalogFailure, CodeLookupFailure:
		return true
	}
	return false
}

func IsUpstreamFailure(err error) bool {
	return strings.Contains(string(CodeOf(err)), "upstream")
}

func Join(errs ...error) error {
	return oops.Code(CodeOrchestratorFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
