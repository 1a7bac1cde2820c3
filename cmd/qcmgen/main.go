package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"qcmengine"

	"github.com/joho/godotenv"
)

// qcmgen runs one quiz session end to end against a local PDF: it registers
// the document, starts a session, waits for each question, prints it, answers
// (interactively or randomly) and prints the final score.
func main() {
	var (
		docPath    = flag.String("doc", "", "Path to the source PDF (required)")
		pages      = flag.String("pages", "", "Page selection, e.g. \"12-24,30\" (default: whole document)")
		difficulty = flag.String("difficulty", "medium", "Difficulty level (easy, medium, hard)")
		total      = flag.Int("questions", 5, "Number of questions")
		dbPath     = flag.String("db", "./qcm.db", "Path to the sqlite database")
		apiKey     = flag.String("api-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		verbose    = flag.Bool("verbose", false, "Enable verbose debugging output")
	)
	flag.Parse()

	godotenv.Load()
	qcmengine.SetVerbose(*verbose)

	if *docPath == "" {
		log.Fatal("Document path is required. Use -doc flag.")
	}
	if *apiKey == "" {
		*apiKey = os.Getenv("OPENAI_API_KEY")
		if *apiKey == "" {
			log.Fatal("OpenAI API key is required. Use -api-key flag or set OPENAI_API_KEY environment variable.")
		}
	}

	cfg := qcmengine.ConfigFromEnv()
	cfg.Total = *total

	store, err := qcmengine.OpenSQLiteStore(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()
	if err := store.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	resolver := qcmengine.NewSourceResolver(store, qcmengine.NewPDFTextExtractor(), cfg)
	sampler := qcmengine.NewPromptSampler(cfg.ChunkWords)
	generator := qcmengine.NewOpenAIGenerator(*apiKey, cfg)
	coordinator := qcmengine.NewCoordinator(store, resolver, sampler, generator, cfg)
	manager := qcmengine.NewSessionManager(store, coordinator, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	const cliUser = int64(1)
	doc := &qcmengine.Document{
		UserID:    cliUser,
		Name:      *docPath,
		Path:      *docPath,
		CreatedAt: time.Now(),
	}
	if err := store.CreateDocument(ctx, doc); err != nil {
		log.Fatalf("Failed to register document: %v", err)
	}

	start, err := manager.Start(ctx, cliUser, qcmengine.StartRequest{
		DocumentID: doc.ID,
		Difficulty: *difficulty,
		Pages:      *pages,
		Total:      *total,
	})
	if err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}
	log.Printf("Session %s started", start.SessionID)

	for {
		cur, err := manager.Current(ctx, cliUser, start.SessionID)
		if err != nil {
			log.Fatalf("Failed to poll session: %v", err)
		}

		switch cur.Status {
		case qcmengine.StatusGenerating:
			fmt.Printf("Generating… (%d/%d)\n", cur.GeneratedCount, cur.Total)
			time.Sleep(2 * time.Second)
			continue
		case qcmengine.StatusError:
			log.Fatalf("Session failed: %s", cur.Detail)
		case qcmengine.StatusDone, qcmengine.StatusClosed:
			printResult(ctx, manager, cliUser, start.SessionID)
			return
		}

		fmt.Printf("\nQuestion %d/%d: %s\n", cur.Question.Slot+1, cur.Total, cur.Question.Text)
		for i, choice := range cur.Question.Choices {
			fmt.Printf("  %c) %s\n", 'A'+i, choice)
		}

		choice := readChoice()
		ans, err := manager.Answer(ctx, cliUser, start.SessionID, choice)
		if errors.Is(err, qcmengine.ErrQuestionNotReady) {
			time.Sleep(time.Second)
			continue
		}
		if err != nil {
			log.Fatalf("Failed to submit answer: %v", err)
		}

		if ans.Correct {
			fmt.Println("Correct!")
		} else {
			fmt.Printf("Wrong, the answer was %c.\n", 'A'+ans.CorrectIndex)
		}
		fmt.Printf("Explanation: %s\n", ans.Explanation)

		if _, err := manager.Advance(ctx, cliUser, start.SessionID); err != nil {
			log.Fatalf("Failed to advance: %v", err)
		}
	}
}

func readChoice() int {
	for {
		fmt.Print("Your answer (A-D): ")
		var in string
		if _, err := fmt.Scanln(&in); err != nil {
			continue
		}
		if len(in) == 1 {
			if c := in[0] | 0x20; c >= 'a' && c <= 'd' {
				return int(c - 'a')
			}
		}
		fmt.Println("Please answer A, B, C or D.")
	}
}

func printResult(ctx context.Context, manager *qcmengine.SessionManager, user int64, sessionID string) {
	res, err := manager.Result(ctx, user, sessionID)
	if err != nil {
		log.Fatalf("Failed to fetch result: %v", err)
	}
	fmt.Printf("\nScore: %d/%d\n", res.Score, res.Total)
	out, _ := json.MarshalIndent(res.Details, "", "  ")
	fmt.Println(string(out))
}
