package api

import (
	"context"
	"time"

	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/rulebook/internal/rules"
)

// Evaluate matches one item against a published catalog.
//
// Request:  {"catalog": string, "item": object, "explain": bool}
// Response: {"catalog": string, "matched": bool, "failures": [...]}
//
// failures is present only when explain is set and the item did not match.
func (s *EvaluatorService) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	defer s.metrics.observeRequest("Evaluate", time.Now())

	resp, err := s.evaluate(ctx, req)
	return resp, s.fail("Evaluate", err)
}

func (s *EvaluatorService) evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := requiredString(req, "catalog")
	if err != nil {
		return nil, err
	}
	item := req.GetFields()["item"].GetStructValue()
	if item == nil {
		return nil, invalidArgument("item must be an object")
	}

	catalog, err := s.engine.Catalog(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := s.evaluateItem(catalog, item.AsMap(), boolField(req, "explain"))
	result["catalog"] = name
	return structpb.NewStruct(result)
}

// EvaluateBatch matches several items against one catalog version.
//
// Request:  {"catalog": string, "items": [object], "explain": bool}
// Response: {"catalog": string, "matched_count": number,
//            "results": [{"index": number, "matched": bool, "failures": [...]}]}
func (s *EvaluatorService) EvaluateBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	defer s.metrics.observeRequest("EvaluateBatch", time.Now())

	resp, err := s.evaluateBatch(ctx, req)
	return resp, s.fail("EvaluateBatch", err)
}

func (s *EvaluatorService) evaluateBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := requiredString(req, "catalog")
	if err != nil {
		return nil, err
	}

	values := req.GetFields()["items"].GetListValue().GetValues()
	if len(values) == 0 {
		return nil, invalidArgument("items must be a non-empty list")
	}
	if len(values) > s.cfg.MaxBatchSize {
		return nil, invalidArgument("batch size exceeds maximum of %d items", s.cfg.MaxBatchSize)
	}

	items := make([]Item, len(values))
	for i, v := range values {
		st := v.GetStructValue()
		if st == nil {
			return nil, invalidArgument("items[%d] must be an object", i)
		}
		items[i] = st.AsMap()
	}

	// One lookup so every item sees the same catalog version.
	catalog, err := s.engine.Catalog(name)
	if err != nil {
		return nil, err
	}

	explain := boolField(req, "explain")
	results := make([]any, len(items))
	matchedCount := 0
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := s.evaluateItem(catalog, item, explain)
		r["index"] = i
		if r["matched"] == true {
			matchedCount++
		}
		results[i] = r
	}

	return structpb.NewStruct(map[string]any{
		"catalog":       name,
		"matched_count": matchedCount,
		"results":       results,
	})
}

func (s *EvaluatorService) evaluateItem(catalog *rules.CompiledCatalog[Item], item Item, explain bool) map[string]any {
	out := map[string]any{}

	if !explain {
		matched := catalog.Matches(item)
		s.metrics.recordEvaluation(catalog.Name(), matched)
		out["matched"] = matched
		return out
	}

	ex := catalog.Explain(item)
	s.metrics.recordEvaluation(catalog.Name(), ex.Satisfied)
	out["matched"] = ex.Satisfied
	if !ex.Satisfied {
		out["failures"] = failuresValue(ex.Failures)
	}
	return out
}

func failuresValue(failures []*rules.Failure) []any {
	out := make([]any, 0, len(failures))
	for _, f := range failures {
		if f == nil {
			continue
		}
		out = append(out, map[string]any{
			"code":     f.Code,
			"property": f.Property,
			"message":  f.Message,
		})
	}
	return out
}

// fail converts err to a status error and records it.
func (s *EvaluatorService) fail(method string, err error) error {
	if err == nil {
		return nil
	}
	err = toStatus(err)
	code := status.Code(err)
	s.metrics.recordError(method, code.String())
	s.logger.Debug("request failed", "method", method, "code", code.String(), "error", err)
	return err
}

func requiredString(req *structpb.Struct, field string) (string, error) {
	v, ok := req.GetFields()[field].GetKind().(*structpb.Value_StringValue)
	if !ok || v.StringValue == "" {
		return "", invalidArgument("%s must be a non-empty string", field)
	}
	return v.StringValue, nil
}

func boolField(req *structpb.Struct, field string) bool {
	return req.GetFields()[field].GetBoolValue()
}
