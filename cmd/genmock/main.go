// Command genmock synthesizes a GEFS-like ensemble run and writes it either to
// a msgpack fixture file or straight onto the source Kafka topic. Messages are
// built with the same domain codec the service decodes, so a generated run
// exercises the real assembly path.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock/gefs_2024042600.msgpack
//	go run ./cmd/genmock -brokers localhost:9092 -topic ensemble-fields -shuffle
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/couchcryptid/ensemble-etl/internal/domain"
	"github.com/couchcryptid/ensemble-etl/internal/ensemble"
	"github.com/couchcryptid/ensemble-etl/internal/mockrun"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	def := mockrun.DefaultOptions()

	runID := flag.String("run", def.RunID, "run id (YYYYMMDDHH)")
	members := flag.Int("members", len(def.Members), "ensemble size including the control member")
	ny := flag.Int("ny", def.Grid.NY, "grid rows")
	nx := flag.Int("nx", def.Grid.NX, "grid columns")
	stepHours := flag.Int("step", def.StepHours, "hours between forecast steps")
	hours := flag.Int("hours", def.ForecastHours, "forecast horizon in hours")
	quantities := flag.String("quantities", strings.Join(def.Quantities, ","), "comma-separated quantities")
	seed := flag.Uint64("seed", def.Seed, "random seed")
	shuffle := flag.Bool("shuffle", false, "deliver messages in random order")
	out := flag.String("out", "", "output path for the msgpack fixture")
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers to publish to")
	topic := flag.String("topic", "ensemble-fields", "Kafka topic to publish to")
	flag.Parse()

	if *out == "" && *brokers == "" {
		flag.Usage()
		return fmt.Errorf("one of -out or -brokers is required")
	}

	runTime, err := time.Parse("2006010215", *runID)
	if err != nil {
		return fmt.Errorf("run id %q: %w", *runID, err)
	}
	grid, err := ensemble.NewGrid(*ny, *nx)
	if err != nil {
		return err
	}
	if *members < 1 {
		return fmt.Errorf("members must be at least 1")
	}
	if *stepHours <= 0 || *hours%*stepHours != 0 {
		return fmt.Errorf("hours %d must be a multiple of step %d", *hours, *stepHours)
	}

	opts := mockrun.Options{
		RunID:         *runID,
		RunTime:       runTime,
		Members:       make([]string, 0, *members),
		Grid:          grid,
		StepHours:     *stepHours,
		ForecastHours: *hours,
		Quantities:    strings.Split(*quantities, ","),
		Seed:          *seed,
		Shuffle:       *shuffle,
	}
	opts.Members = append(opts.Members, "c00")
	for i := 1; i < *members; i++ {
		opts.Members = append(opts.Members, fmt.Sprintf("p%02d", i))
	}

	msgs := mockrun.Generate(opts)
	steps := *hours / *stepHours + 1
	log.Printf("generated %d messages: %d members, grid %s, %d steps", len(msgs), len(opts.Members), grid, steps)

	if *out != "" {
		if err := writeFixture(*out, msgs); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote fixture: %s", *out)
	}
	if *brokers != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := publish(ctx, strings.Split(*brokers, ","), *topic, msgs); err != nil {
			return fmt.Errorf("publishing: %w", err)
		}
		log.Printf("published %d messages to %s", len(msgs), *topic)
	}

	printStats(msgs)
	return nil
}

func writeFixture(path string, msgs []domain.FieldMessage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := msgpack.Marshal(msgs)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func publish(ctx context.Context, brokers []string, topic string, msgs []domain.FieldMessage) error {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		BatchBytes:             64 << 20,
		Compression:            kafkago.Zstd,
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	const chunk = 64
	for batch := range slices.Chunk(msgs, chunk) {
		kmsgs := make([]kafkago.Message, 0, len(batch))
		for _, m := range batch {
			value, err := domain.EncodeFieldMessage(m)
			if err != nil {
				return err
			}
			kmsgs = append(kmsgs, kafkago.Message{
				Key:   []byte(m.RunID + "|" + m.Quantity),
				Value: value,
				Time:  m.RunTime.Add(time.Duration(m.ForecastHour) * time.Hour),
			})
		}
		if err := w.WriteMessages(ctx, kmsgs...); err != nil {
			return err
		}
	}
	return nil
}

type quantityStats struct {
	messages int
	units    string
	max      float64
	maxFH    int
}

func printStats(msgs []domain.FieldMessage) {
	stats := map[string]*quantityStats{}
	for i := range msgs {
		m := &msgs[i]
		s, ok := stats[m.Quantity]
		if !ok {
			s = &quantityStats{units: m.Units, max: math.Inf(-1)}
			stats[m.Quantity] = s
		}
		s.messages++
		for _, v := range m.Values {
			if v > s.max {
				s.max = v
				s.maxFH = m.ForecastHour
			}
		}
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", len(msgs))
	for _, q := range slices.Sorted(maps.Keys(stats)) {
		s := stats[q]
		fmt.Printf("  %-9s messages=%d max=%.4g %s at f%03d\n", q, s.messages, s.max, s.units, s.maxFH)
	}
}
