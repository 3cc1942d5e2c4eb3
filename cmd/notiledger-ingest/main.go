// Command notiledger-ingest runs a single notification text through the full
// reconciliation pipeline and prints the outcome. It shares the server's
// configuration, so pointing MONGO_URI at the live database makes the result
// visible to a running notiledgerd.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/seojinlee/notiledger/internal/config"
	"github.com/seojinlee/notiledger/internal/ledger"
	"github.com/seojinlee/notiledger/internal/ledger/memory"
	"github.com/seojinlee/notiledger/internal/ledger/mongostore"
	"github.com/seojinlee/notiledger/internal/logger"
	"github.com/seojinlee/notiledger/internal/normalize"
	"github.com/seojinlee/notiledger/internal/parse"
	"github.com/seojinlee/notiledger/internal/reconcile"
	"github.com/seojinlee/notiledger/internal/source"
)

func main() {
	var (
		ledgerID = flag.String("ledger", "", "ledger id (required)")
		sourceID = flag.String("source", "", "source id the text came from (required)")
		text     = flag.String("text", "", "raw notification text (required)")
		manual   = flag.Bool("manual", false, "treat the text as user-pasted instead of a captured notification")
		postedAt = flag.String("posted-at", "", "notification timestamp, RFC 3339 (default: now)")
	)
	flag.Parse()

	log := logger.New()

	if *ledgerID == "" || *sourceID == "" || *text == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	at := time.Now()
	if *postedAt != "" {
		if at, err = time.Parse(time.RFC3339, *postedAt); err != nil {
			log.Fatal().Err(err).Msg("Invalid -posted-at")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reg, err := source.NewRegistry(source.Builtin()...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build source registry")
	}
	if cfg.AllowedSources != nil {
		reg.SetAllowed(cfg.AllowedSources)
	}

	var store ledger.Store
	if cfg.MongoURI != "" {
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		ms := mongostore.New(client, cfg.MongoDatabase)
		defer ms.Close(ctx)
		store = ms
	} else {
		store = memory.NewStore()
		log.Warn().Msg("No MONGO_URI configured - running against a throwaway in-memory store")
	}

	engine := reconcile.New(reconcile.Deps{
		Store:      store,
		Parser:     parse.New(reg),
		Normalizer: normalize.New(reg, normalize.DefaultMerchantCategories()),
		Log:        logger.ForComponent(log, "engine"),
	}, reconcile.Config{
		HighValueThreshold: cfg.HighValueThreshold,
		ActingUser:         cfg.ActingUser,
	})

	raw := reconcile.RawNotification{SourceID: *sourceID, Text: *text, PostedAt: at}

	var outcome reconcile.Outcome
	if *manual {
		outcome, err = engine.IngestManualText(ctx, *ledgerID, raw)
	} else {
		outcome, err = engine.IngestNotification(ctx, *ledgerID, raw)
	}
	if err != nil {
		if kind := parse.KindOf(err); kind != "" {
			log.Error().Str("kind", string(kind)).Err(err).Msg("Text did not parse")
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	out, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode outcome")
	}
	fmt.Println(string(out))
}
