// Command createuser adds an account straight to the credential store.
//
//	createuser -d postgres://... -email root@example.com -role admin
package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/contactkeeper/internal/admin"
	"github.com/dmitrijs2005/contactkeeper/internal/server/models"
	"github.com/dmitrijs2005/contactkeeper/internal/server/repositories/repomanager"
)

func main() {
	dsn := flag.String("d", os.Getenv("DATABASE_URL"), "database DSN")
	email := flag.String("email", "", "account email (prompted when empty)")
	role := flag.String("role", models.RoleUser, "account role: user or admin")
	inactive := flag.Bool("inactive", false, "create the account disabled")
	verified := flag.Bool("verified", false, "mark the email as verified")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("database DSN is not set (use -d or DATABASE_URL)")
	}

	if *email == "" {
		e, err := admin.GetSimpleText(bufio.NewReader(os.Stdin), "Email", os.Stdout)
		if err != nil {
			log.Fatalf("read email: %v", err)
		}
		*email = e
	}

	password, err := admin.GetNewPassword(os.Stdout)
	if err != nil {
		log.Fatalf("read password: %v", err)
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	u, err := admin.CreateUser(context.Background(), db, repomanager.NewPostgresRepositoryManager(), admin.CreateUserOptions{
		Email:    *email,
		Role:     *role,
		Inactive: *inactive,
		Verified: *verified,
	}, password)
	if err != nil {
		log.Fatalf("create user: %v", err)
	}

	fmt.Printf("created user %s id=%s role=%s\n", u.Email, u.ID, u.Role)
}
