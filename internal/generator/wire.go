package generator

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// #region wire

// MethodGenerate is the full gRPC method name.
const MethodGenerate = "/hypothesis.v1.HypothesisGenerator/Generate"

const (
	fieldContext    = "context"
	fieldMaxLength  = "max_length"
	fieldNumReturn  = "num_return_sequences"
	fieldCandidates = "candidates"
)

func encodeRequest(prompt string, maxLength, n int) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{
		fieldContext:   prompt,
		fieldMaxLength: maxLength,
		fieldNumReturn: n,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return req, nil
}

func decodeRequest(req *structpb.Struct) (prompt string, maxLength, n int, err error) {
	f := req.GetFields()
	ctxVal, ok := f[fieldContext]
	if !ok {
		return "", 0, 0, fmt.Errorf("missing %q", fieldContext)
	}
	prompt = ctxVal.GetStringValue()
	maxLength = int(f[fieldMaxLength].GetNumberValue())
	n = int(f[fieldNumReturn].GetNumberValue())
	if n < 0 || maxLength < 0 {
		return "", 0, 0, fmt.Errorf("negative %s/%s", fieldMaxLength, fieldNumReturn)
	}
	return prompt, maxLength, n, nil
}

func encodeCandidates(candidates []string) (*structpb.Struct, error) {
	items := make([]any, len(candidates))
	for i, c := range candidates {
		items[i] = c
	}
	resp, err := structpb.NewStruct(map[string]any{fieldCandidates: items})
	if err != nil {
		return nil, fmt.Errorf("encode generate response: %w", err)
	}
	return resp, nil
}

func decodeCandidates(resp *structpb.Struct) ([]string, error) {
	list := resp.GetFields()[fieldCandidates].GetListValue()
	if list == nil {
		return nil, nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("candidate %d: not a string", i)
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

// #endregion wire
