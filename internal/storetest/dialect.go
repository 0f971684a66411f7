package storetest

import (
	"strings"
	"sync"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Recorder holds the statements rendered by a dry-run session.
type Recorder struct {
	mu         sync.Mutex
	statements []string
}

func (r *Recorder) record(tx *gorm.DB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statements = append(r.statements, tx.Statement.SQL.String())
}

func (r *Recorder) Statements() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statements...)
}

// Last returns the most recent statement, or "" when nothing ran.
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statements) == 0 {
		return ""
	}
	return r.statements[len(r.statements)-1]
}

// MySQLDryRun renders statements with the MySQL dialect without a server.
// Nothing is executed, so reads return no rows.
func MySQLDryRun(t *testing.T) (*gorm.DB, *Recorder) {
	t.Helper()

	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "tokenwallet:tokenwallet@tcp(127.0.0.1:3306)/tokenwallet?parseTime=True&loc=UTC",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	if err != nil {
		t.Fatalf("open mysql dry run: %v", err)
	}

	rec := &Recorder{}
	cb := db.Callback()
	register := func(err error) {
		if err != nil {
			t.Fatalf("register recorder: %v", err)
		}
	}
	register(cb.Create().After("gorm:create").Register("storetest:record_create", rec.record))
	register(cb.Raw().After("gorm:raw").Register("storetest:record_raw", rec.record))
	register(cb.Query().After("gorm:query").Register("storetest:record_query", rec.record))
	return db, rec
}

// Normalize folds whitespace and case so assertions can match fragments.
func Normalize(statement string) string {
	return strings.ToUpper(strings.Join(strings.Fields(statement), " "))
}
