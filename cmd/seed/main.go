package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq"

	"gitea.kood.tech/petrkubec/sportlink/social"
)

type cfg struct {
	DSN         string
	Count       int
	PostsPer    int
	Seed        int64
	Truncate    bool
	ConnectRate float64 // proportion of profile pairs to connect
	Workers     int
}

var (
	firstNames = []string{"Alex", "Maria", "Jon", "Karin", "Tomas", "Liis", "Mikk", "Anna", "Peeter", "Sofia", "Rasmus", "Elena"}
	lastNames  = []string{"Tamm", "Kask", "Saar", "Mägi", "Okas", "Lepp", "Kivi", "Rebane", "Ilves", "Kuusk"}
	sports     = []string{"Boxing", "Tennis", "Football", "Basketball", "Swimming", "Athletics", "Cycling", ""}
	postLines  = []string{
		"Great training session today!",
		"Looking for a sparring partner this weekend.",
		"New season, new goals.",
		"Proud to support upcoming talent.",
		"Recovery day. Ice bath and stretching.",
		"Anyone at the track tomorrow morning?",
	}
)

func main() {
	var c cfg
	flag.StringVar(&c.DSN, "dsn", os.Getenv("DATABASE_URL"), "Postgres DSN [env: DATABASE_URL]")
	flag.IntVar(&c.Count, "count", 100, "Number of profiles to create")
	flag.IntVar(&c.PostsPer, "posts-per", 5, "Average number of posts per profile")
	flag.Int64Var(&c.Seed, "seed", 42, "RNG seed (deterministic)")
	flag.BoolVar(&c.Truncate, "truncate", false, "TRUNCATE target tables before running")
	flag.Float64Var(&c.ConnectRate, "connect-rate", 0.10, "Proportion of profile pairs to connect (0..1)")
	flag.IntVar(&c.Workers, "workers", 8, "Concurrent insert workers")
	flag.Parse()

	if c.DSN == "" {
		log.Fatal("Missing DSN: provide --dsn or set DATABASE_URL")
	}
	if c.Count < 1 {
		log.Fatal("--count must be at least 1")
	}
	if c.ConnectRate < 0 || c.ConnectRate > 1 {
		log.Fatal("--connect-rate must be in range 0..1")
	}

	r := rand.New(rand.NewSource(c.Seed))

	db, err := sql.Open("postgres", c.DSN)
	if err != nil {
		log.Fatal("DB open error:", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := social.EnsureSchema(ctx, db); err != nil {
		log.Fatal("ensure schema:", err)
	}

	if c.Truncate {
		if _, err := db.ExecContext(ctx, `TRUNCATE post_likes, posts, profiles`); err != nil {
			log.Fatal("truncate:", err)
		}
		log.Println("Truncated profiles, posts, post_likes.")
	}

	profiles := social.NewPGProfileStore(db)
	posts := social.NewPGPostStore(db, c.DSN)

	// Profiles are generated deterministically up front; only the inserts
	// run concurrently, so the dataset for a given seed never changes.
	generated := make([]*social.UserProfile, c.Count)
	for i := range generated {
		generated[i] = &social.UserProfile{
			ID:          fmt.Sprintf("seed-user-%04d", i+1),
			DisplayName: firstNames[r.Intn(len(firstNames))] + " " + lastNames[r.Intn(len(lastNames))],
			Email:       fmt.Sprintf("seed%04d@example.com", i+1),
			SportsName:  sports[r.Intn(len(sports))],
		}
		switch r.Intn(3) {
		case 0:
			generated[i].UserType = social.UserTypeAthlete
		case 1:
			generated[i].UserType = social.UserTypeSponsor
		}
	}

	if err := insertProfiles(ctx, db, generated, c.Workers); err != nil {
		log.Fatal("insert profiles:", err)
	}
	log.Printf("Inserted %d profiles", len(generated))

	nPosts, err := insertPosts(ctx, posts, r, generated, c.PostsPer)
	if err != nil {
		log.Fatal("insert posts:", err)
	}
	log.Printf("Inserted %d posts", nPosts)

	nEdges, err := connectPairs(ctx, profiles, r, generated, c.ConnectRate)
	if err != nil {
		log.Fatal("connect profiles:", err)
	}
	log.Printf("Connected %d pairs", nEdges)

	log.Println("Seed complete ✅")
}

func insertProfiles(ctx context.Context, db *sql.DB, generated []*social.UserProfile, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, p := range generated {
		g.Go(func() error {
			_, err := db.ExecContext(ctx, `
                INSERT INTO profiles (id, display_name, email, sports_name, user_type)
                VALUES ($1, $2, $3, $4, $5)
                ON CONFLICT (id) DO UPDATE SET
                    display_name = EXCLUDED.display_name,
                    email        = EXCLUDED.email,
                    sports_name  = EXCLUDED.sports_name,
                    user_type    = EXCLUDED.user_type
            `, p.ID, p.DisplayName, p.Email, p.SportsName, string(p.UserType))
			return err
		})
	}
	return g.Wait()
}

// insertPosts runs sequentially: the store assigns strictly increasing
// timestamps, and a deterministic insert order keeps the feed ordering
// reproducible for a given seed.
func insertPosts(ctx context.Context, posts *social.PGPostStore, r *rand.Rand, generated []*social.UserProfile, per int) (int, error) {
	n := 0
	for _, p := range generated {
		count := r.Intn(per*2 + 1)
		for i := 0; i < count; i++ {
			_, err := social.CreatePost(ctx, posts, p.ID, social.AuthorSnapshot{
				DisplayName: p.DisplayName,
				Email:       p.Email,
			}, postLines[r.Intn(len(postLines))], "")
			if err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func connectPairs(ctx context.Context, profiles *social.PGProfileStore, r *rand.Rand, generated []*social.UserProfile, rate float64) (int, error) {
	n := 0
	for i, a := range generated {
		graph := social.NewConnectionGraph(a.ID, nil, profiles)
		for _, b := range generated[i+1:] {
			if r.Float64() >= rate {
				continue
			}
			err := graph.Connect(ctx,
				social.FriendRef{ID: a.ID, DisplayName: a.DisplayName},
				b.ID,
				social.FriendRef{ID: b.ID, DisplayName: b.DisplayName})
			if err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
