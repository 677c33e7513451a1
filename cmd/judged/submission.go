package main

import (
	"encoding/json"
	"fmt"

	"judgecore/internal/transport"
)

// wireSubmission is the on-the-wire shape of one submission descriptor,
// per spec.md §6, as published onto Kafka's submission topic by the
// upstream submission-intake service. Decoded independently of
// transport.Descriptor (which carries no JSON tags of its own, since
// internal/orchestrator has no business knowing its wire encoding) and
// converted below.
type wireSubmission struct {
	Tag           string `json:"tag"`
	Type          int    `json:"type"`
	DomainID      string `json:"domain_id"`
	PID           string `json:"pid"`
	RID           string `json:"rid"`
	Lang          string `json:"lang"`
	Code          []byte `json:"code"`
	CodeType      string `json:"code_type"`
	JudgeCategory string `json:"judge_category"`
	ShowDetail    bool   `json:"show_detail"`
}

func decodeSubmission(body []byte) (transport.Descriptor, error) {
	var w wireSubmission
	if err := json.Unmarshal(body, &w); err != nil {
		return transport.Descriptor{}, fmt.Errorf("decode submission: %w", err)
	}
	if w.Tag == "" || w.PID == "" || w.Lang == "" {
		return transport.Descriptor{}, fmt.Errorf("decode submission: tag, pid and lang are required")
	}
	codeType, err := parseCodeType(w.CodeType)
	if err != nil {
		return transport.Descriptor{}, err
	}
	return transport.Descriptor{
		Tag:           w.Tag,
		Type:          transport.SubmissionType(w.Type),
		DomainID:      w.DomainID,
		PID:           w.PID,
		RID:           w.RID,
		Lang:          w.Lang,
		Code:          w.Code,
		CodeType:      codeType,
		JudgeCategory: w.JudgeCategory,
		ShowDetail:    w.ShowDetail,
	}, nil
}

func parseCodeType(s string) (transport.CodeType, error) {
	switch s {
	case "", "TEXT":
		return transport.CodeText, nil
	case "TAR":
		return transport.CodeTar, nil
	case "ZIP":
		return transport.CodeZip, nil
	case "RAR":
		return transport.CodeRar, nil
	default:
		return 0, fmt.Errorf("decode submission: unknown code_type %q", s)
	}
}
