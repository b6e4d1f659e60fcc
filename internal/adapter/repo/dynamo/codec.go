package dynamo

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zksmith/contract-worker/internal/domain"
)

// Attribute names of the job record table.
const (
	attrID        = "ID"
	attrStatus    = "Status"
	attrCreatedAt = "CreatedAt"
	attrData      = "Data"
)

// Variant keys of the polymorphic Data attribute.
const (
	keySuccess = "Success"
	keyFailure = "Failure"
	keyCompile = "Compile"
	keyVerify  = "Verify"
)

// recordItem carries the flat attributes; the polymorphic Data attribute is
// encoded by hand and attached separately.
type recordItem struct {
	ID        string `dynamodbav:"ID"`
	Status    int    `dynamodbav:"Status"`
	CreatedAt string `dynamodbav:"CreatedAt"`
}

func strAV(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func mapAV(key string, value types.AttributeValue) types.AttributeValue {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{key: value}}
}

// encodeRecord renders a full table item. Data is present only when the
// record carries a result.
func encodeRecord(rec domain.JobRecord) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(recordItem{
		ID:        rec.ID,
		Status:    int(rec.Status),
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("op=records.encodeRecord: %w", err)
	}
	if rec.Result != nil {
		data, err := encodeResult(*rec.Result)
		if err != nil {
			return nil, err
		}
		item[attrData] = data
	}
	return item, nil
}

// encodeResult renders the Data attribute: a single-key map discriminating
// Success from Failure. Compile payloads are lists of [kind, path, url]
// tuples, Verify payloads a plain string, Failure a [type, message] tuple.
func encodeResult(res domain.TaskResult) (types.AttributeValue, error) {
	switch {
	case res.Success != nil && res.Success.Verify != nil:
		return mapAV(keySuccess, mapAV(keyVerify, strAV(*res.Success.Verify))), nil
	case res.Success != nil:
		tuples := make([]types.AttributeValue, 0, len(res.Success.Compile))
		for _, a := range res.Success.Compile {
			tuples = append(tuples, &types.AttributeValueMemberL{Value: []types.AttributeValue{
				strAV(string(a.Kind)), strAV(a.Path), strAV(a.URL),
			}})
		}
		return mapAV(keySuccess, mapAV(keyCompile, &types.AttributeValueMemberL{Value: tuples})), nil
	case res.Failure != nil:
		return mapAV(keyFailure, &types.AttributeValueMemberL{Value: []types.AttributeValue{
			strAV(string(res.Failure.Type)), strAV(res.Failure.Message),
		}}), nil
	}
	return nil, errors.New("op=records.encodeResult: empty task result")
}

// decodeRecord reconstructs a record from a table item. Any shape violation
// wraps domain.ErrMalformedRecord.
func decodeRecord(item map[string]types.AttributeValue) (domain.JobRecord, error) {
	var flat recordItem
	if err := attributevalue.UnmarshalMap(item, &flat); err != nil {
		return domain.JobRecord{}, malformed("item: %v", err)
	}
	if flat.ID == "" {
		return domain.JobRecord{}, malformed("missing %s", attrID)
	}
	status := domain.JobStatus(flat.Status)
	if !status.Valid() {
		return domain.JobRecord{}, malformed("status out of range: %d", flat.Status)
	}
	createdAt, err := time.Parse(time.RFC3339, flat.CreatedAt)
	if err != nil {
		return domain.JobRecord{}, malformed("created_at: %v", err)
	}
	rec := domain.JobRecord{ID: flat.ID, Status: status, CreatedAt: createdAt}
	if data, ok := item[attrData]; ok {
		res, err := decodeResult(data)
		if err != nil {
			return domain.JobRecord{}, err
		}
		rec.Result = &res
	}
	return rec, nil
}

func decodeResult(av types.AttributeValue) (domain.TaskResult, error) {
	outer, ok := av.(*types.AttributeValueMemberM)
	if !ok {
		return domain.TaskResult{}, malformed("%s is not a map", attrData)
	}
	if succ, ok := outer.Value[keySuccess]; ok {
		return decodeSuccess(succ)
	}
	if fail, ok := outer.Value[keyFailure]; ok {
		return decodeFailure(fail)
	}
	return domain.TaskResult{}, malformed("%s has no %s or %s key", attrData, keySuccess, keyFailure)
}

func decodeSuccess(av types.AttributeValue) (domain.TaskResult, error) {
	inner, ok := av.(*types.AttributeValueMemberM)
	if !ok {
		return domain.TaskResult{}, malformed("%s is not a map", keySuccess)
	}
	if v, ok := inner.Value[keyVerify]; ok {
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return domain.TaskResult{}, malformed("%s payload is not a string", keyVerify)
		}
		return domain.VerifySuccess(s.Value), nil
	}
	list, ok := inner.Value[keyCompile]
	if !ok {
		return domain.TaskResult{}, malformed("%s has no %s or %s key", keySuccess, keyCompile, keyVerify)
	}
	l, ok := list.(*types.AttributeValueMemberL)
	if !ok {
		return domain.TaskResult{}, malformed("%s payload is not a list", keyCompile)
	}
	artifacts := make([]domain.ArtifactInfo, 0, len(l.Value))
	for _, item := range l.Value {
		tuple, ok := item.(*types.AttributeValueMemberL)
		if !ok || len(tuple.Value) != 3 {
			return domain.TaskResult{}, malformed("%s entry is not a 3-tuple", keyCompile)
		}
		parts := make([]string, 3)
		for i, p := range tuple.Value {
			s, ok := p.(*types.AttributeValueMemberS)
			if !ok {
				return domain.TaskResult{}, malformed("%s tuple element is not a string", keyCompile)
			}
			parts[i] = s.Value
		}
		artifacts = append(artifacts, domain.ArtifactInfo{
			Kind: domain.ArtifactKind(parts[0]),
			Path: parts[1],
			URL:  parts[2],
		})
	}
	return domain.TaskResult{Success: &domain.SuccessData{Compile: artifacts}}, nil
}

func decodeFailure(av types.AttributeValue) (domain.TaskResult, error) {
	tuple, ok := av.(*types.AttributeValueMemberL)
	if !ok || len(tuple.Value) != 2 {
		return domain.TaskResult{}, malformed("%s is not a 2-tuple", keyFailure)
	}
	et, ok := tuple.Value[0].(*types.AttributeValueMemberS)
	if !ok {
		return domain.TaskResult{}, malformed("%s type is not a string", keyFailure)
	}
	msg, ok := tuple.Value[1].(*types.AttributeValueMemberS)
	if !ok {
		return domain.TaskResult{}, malformed("%s message is not a string", keyFailure)
	}
	return domain.TaskResult{Failure: &domain.FailureData{
		Type:    domain.ErrorType(et.Value),
		Message: msg.Value,
	}}, nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("op=records.decode: %w: %s", domain.ErrMalformedRecord, fmt.Sprintf(format, args...))
}
