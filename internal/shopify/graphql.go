package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// GraphQLError is one entry of the top-level errors array in a GraphQL
// response envelope.
type GraphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

// GraphQLQuery posts the query and decodes the data portion of the envelope
// into out. Top-level GraphQL errors are mapped onto the error taxonomy:
// THROTTLED becomes a rate-limit error, everything else an API error.
func (c *Client) GraphQLQuery(ctx context.Context, query string, out any) error {
	body, err := c.GraphQL(ctx, query)
	if err != nil {
		return err
	}

	var envelope graphqlEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding graphql envelope")
	}

	if len(envelope.Errors) > 0 {
		if isThrottled(envelope.Errors) {
			return pkgerrors.New(pkgerrors.CodeRateLimit, envelope.Errors[0].Message)
		}
		return pkgerrors.New(pkgerrors.CodeAPI, fmt.Sprintf("graphql errors: %s", joinGraphQLErrors(envelope.Errors)))
	}

	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeParse, err, "decoding graphql data")
	}
	return nil
}

func isThrottled(errs []GraphQLError) bool {
	for _, e := range errs {
		if e.Extensions.Code == "THROTTLED" || strings.Contains(e.Message, "Throttled") {
			return true
		}
	}
	return false
}

func joinGraphQLErrors(errs []GraphQLError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, "; ")
}
