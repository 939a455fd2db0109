package signal

import (
	"context"
	"log"
	"sync"
)

// Analysis is the combined intake judgment for one report.
type Analysis struct {
	Signal    Signal
	Sentiment float32
}

// Analyzer runs classification and sentiment scoring concurrently for one
// report. Sentiment failure is tolerated; a classification failure is not,
// since downstream verification depends on it.
type Analyzer struct {
	Classifier TextClassifier
	Sentiment  *SentimentAnalyzer // optional
}

func (a *Analyzer) Analyze(ctx context.Context, text string) (Analysis, error) {
	var (
		out     Analysis
		sigErr  error
		wg      sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		out.Signal, sigErr = a.Classifier.ExtractSignal(ctx, text)
	}()

	if a.Sentiment != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			score, err := a.Sentiment.Score(ctx, text)
			if err != nil {
				log.Printf("Error analyzing sentiment: %v", err)
				return
			}
			out.Sentiment = score
		}()
	}

	wg.Wait()
	if sigErr != nil {
		return Analysis{}, sigErr
	}
	return out, nil
}
