package signal

import (
	"context"
	"encoding/base64"
	"fmt"

	language "cloud.google.com/go/language/apiv2"
	"cloud.google.com/go/language/apiv2/languagepb"
	"google.golang.org/api/option"
)

// SentimentAnalyzer scores report text with the Cloud Natural Language API.
// Strongly negative scores feed the severity hint at intake.
type SentimentAnalyzer struct {
	client *language.Client
}

// NewSentimentAnalyzer builds the client from base64-encoded credentials.
func NewSentimentAnalyzer(ctx context.Context, encodedCreds string) (*SentimentAnalyzer, error) {
	creds, err := base64.StdEncoding.DecodeString(encodedCreds)
	if err != nil {
		return nil, fmt.Errorf("failed to decode natural language credentials: %w", err)
	}

	client, err := language.NewClient(ctx, option.WithCredentialsJSON(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create natural language client: %w", err)
	}
	return &SentimentAnalyzer{client: client}, nil
}

func (a *SentimentAnalyzer) Close() error {
	return a.client.Close()
}

// Score returns the document sentiment score in [-1, 1].
func (a *SentimentAnalyzer) Score(ctx context.Context, text string) (float32, error) {
	req := &languagepb.AnalyzeSentimentRequest{
		Document: &languagepb.Document{
			Source: &languagepb.Document_Content{Content: text},
			Type:   languagepb.Document_PLAIN_TEXT,
		},
		EncodingType: languagepb.EncodingType_UTF8,
	}

	resp, err := a.client.AnalyzeSentiment(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("AnalyzeSentiment error: %w", err)
	}
	return resp.DocumentSentiment.Score, nil
}
