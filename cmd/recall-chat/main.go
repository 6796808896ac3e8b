// recall-chat is a terminal chat REPL demonstrating the full memory loop:
// every exchange is indexed in the background, and questions about past
// conversations trigger retrieval and context injection before the chat
// model answers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/embedding"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/memory"
	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/internal/storage/postgres"
	"github.com/scrypster/recall/internal/storage/sqlite"
	"github.com/scrypster/recall/pkg/types"
)

func main() {
	ownerFlag := flag.String("owner", "", "Owner ID (UUID); generated and printed when empty")
	titleFlag := flag.String("title", "Terminal chat", "Conversation title stored with each message")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ownerID := *ownerFlag
	if ownerID == "" {
		ownerID = uuid.NewString()
		log.Printf("Generated owner ID %s (pass -owner to keep memories across runs)", ownerID)
	}

	embedClient := embedding.NewClient(buildEmbeddingProvider(cfg), embedding.ClientConfig{
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})

	index, err := openIndex(cfg, embedClient)
	if err != nil {
		log.Fatalf("Failed to open vector index: %v", err)
	}
	defer index.Close()

	svc := memory.New(index, memory.Config{
		RetrievalTimeout: time.Duration(cfg.Retrieval.TimeoutSeconds) * time.Second,
		IndexWorkers:     cfg.Indexing.Workers,
		QueueSize:        cfg.Indexing.QueueSize,
	})
	svc.Start()

	chat := buildChatProvider(cfg)
	conversationID := uuid.NewString()

	// Drain pending indexing on Ctrl-C before exiting.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		shutdown(svc)
		os.Exit(0)
	}()

	fmt.Printf("recall-chat: model %s, owner %s\n", chat.GetModel(), ownerID)
	fmt.Println("Commands: /stats, /forget (delete this conversation), /quit")

	var history []types.Turn
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit":
			shutdown(svc)
			return
		case "/stats":
			stats, err := svc.Stats(context.Background())
			if err != nil {
				fmt.Printf("stats error: %v\n", err)
				continue
			}
			fmt.Printf("%d records at %s\n", stats.Records, stats.Location)
			continue
		case "/forget":
			if err := svc.DeleteConversation(context.Background(), ownerID, conversationID); err != nil {
				fmt.Printf("forget error: %v\n", err)
				continue
			}
			fmt.Println("conversation forgotten")
			continue
		}

		history = append(history, types.Turn{Role: types.RoleUser, Text: line})

		turns := history
		if svc.ShouldRetrieve(line) {
			results, err := svc.Retrieve(context.Background(), ownerID, line, cfg.Retrieval.DefaultK)
			if err != nil {
				log.Printf("WARNING: retrieval failed: %v", err)
			} else if len(results) > 0 {
				log.Printf("Injecting %d retrieved memories", len(results))
				turns = svc.Inject(history, results)
			}
		}

		reply, err := chat.Chat(context.Background(), turns)
		if err != nil {
			fmt.Printf("chat error: %v\n", err)
			// Drop the failed user turn so history stays consistent.
			history = history[:len(history)-1]
			continue
		}

		fmt.Println(reply)
		history = append(history, types.Turn{Role: types.RoleAgent, Text: reply})

		svc.AddMessage(ownerID, conversationID, "", types.RoleUser, line, *titleFlag, nil)
		svc.AddMessage(ownerID, conversationID, "", types.RoleAgent, reply, *titleFlag, nil)
	}

	shutdown(svc)
}

func shutdown(svc *memory.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		log.Printf("WARNING: shutdown incomplete: %v", err)
	}
}

func openIndex(cfg *config.Config, embedder storage.Embedder) (storage.VectorIndex, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.Open(postgres.Config{
			DSN:       cfg.Storage.PostgresDSN,
			Dimension: cfg.Storage.PostgresDimension,
		}, embedder)
	default:
		return sqlite.Open(cfg.Storage.DataDir, embedder)
	}
}

func buildEmbeddingProvider(cfg *config.Config) llm.EmbeddingGenerator {
	switch cfg.Embedding.Provider {
	case "openai":
		return llm.NewOpenAIEmbeddingClient(llm.OpenAIEmbeddingConfig{
			APIKey: cfg.Embedding.OpenAIAPIKey,
			Model:  cfg.Embedding.OpenAIModel,
		})
	default:
		return llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:    cfg.Embedding.OllamaURL,
			EmbedModel: cfg.Embedding.OllamaModel,
		})
	}
}

func buildChatProvider(cfg *config.Config) llm.ChatGenerator {
	switch cfg.Chat.Provider {
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey: cfg.Chat.OpenAIAPIKey,
			Model:  cfg.Chat.OpenAIModel,
		})
	case "anthropic":
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey: cfg.Chat.AnthropicAPIKey,
			Model:  cfg.Chat.AnthropicModel,
		})
	default:
		return llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:   cfg.Chat.OllamaURL,
			ChatModel: cfg.Chat.OllamaModel,
		})
	}
}
