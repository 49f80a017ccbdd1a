package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/service"
	"golang.org/x/term"
)

// issue-token mints a development identity token signed with JWT_SECRET.
// Production tokens come from the identity service.
func main() {
	userID := flag.Int("user", 0, "user id to embed in the token")
	tokenType := flag.String("type", string(service.TokenTypeStudent), "token type: student or admin")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	// ─── CLI Input ─────────────────────────────────────────────────────
	if *userID <= 0 && interactive {
		reader := bufio.NewReader(os.Stdin)
		fmt.Println("=== Issue Development Token ===")
		fmt.Print("Enter User ID: ")
		raw, _ := reader.ReadString('\n')
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			fmt.Println("Error: User ID must be a number")
			os.Exit(1)
		}
		*userID = id
	}
	if *userID <= 0 {
		log.Fatal().Msg("-user is required")
	}

	tt := service.TokenType(strings.ToLower(*tokenType))
	if tt != service.TokenTypeStudent && tt != service.TokenTypeAdmin {
		log.Fatal().Str("type", *tokenType).Msg("unknown token type")
	}

	token, err := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry).IssueToken(*userID, tt)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	// Plain output when piped so the token can be captured by scripts.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("Token (%s, user %d, valid %s):\n", tt, *userID, cfg.JWTExpiry)
	}
	fmt.Println(token)
}
