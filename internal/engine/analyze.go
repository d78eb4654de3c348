package engine

import (
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
)

// Analysis describes how a compiled statement behaves when it is executed.
type Analysis struct {
	Kind              string   `msgpack:"kind" json:"kind"`
	Destructive       bool     `msgpack:"destructive" json:"destructive"`
	DestructiveReason string   `msgpack:"destructive_reason,omitempty" json:"destructiveReason,omitempty"`
	Blocking          bool     `msgpack:"blocking" json:"blocking"`
	BlockingReasons   []string `msgpack:"blocking_reasons,omitempty" json:"blockingReasons,omitempty"`
	TransactionSafe   bool     `msgpack:"transaction_safe" json:"transactionSafe"`
	TxUnsafeReason    string   `msgpack:"tx_unsafe_reason,omitempty" json:"txUnsafeReason,omitempty"`
}

// Statements recognized only by their leading keywords.
var implicitCommitPrefixes = []string{
	"CREATE FUNCTION", "DROP FUNCTION", "ALTER FUNCTION",
	"CREATE PROCEDURE", "DROP PROCEDURE", "ALTER PROCEDURE",
	"CREATE TRIGGER", "DROP TRIGGER",
	"CREATE EVENT", "DROP EVENT", "ALTER EVENT",
	"DROP VIEW", "ALTER VIEW",
	"CREATE SEQUENCE", "DROP SEQUENCE",
}

type specEffect struct {
	destructive string
	blocking    string
}

var alterSpecEffects = map[ast.AlterTableType]specEffect{
	ast.AlterTableAddColumns:     {blocking: "ADD COLUMN may require a table rebuild depending on MySQL version and column position"},
	ast.AlterTableDropColumn:     {destructive: "DROP COLUMN will permanently delete the column and its data", blocking: "DROP COLUMN typically requires a full table rebuild and will lock the table"},
	ast.AlterTableModifyColumn:   {blocking: "MODIFY COLUMN may require a table rebuild if changing column type or size"},
	ast.AlterTableChangeColumn:   {blocking: "CHANGE COLUMN may require a table rebuild"},
	ast.AlterTableDropIndex:      {blocking: "DROP INDEX may briefly lock the table"},
	ast.AlterTableDropForeignKey: {blocking: "DROP FOREIGN KEY may briefly lock the table"},
	ast.AlterTableDropPrimaryKey: {blocking: "DROP PRIMARY KEY requires a full table rebuild and will lock the table"},
	ast.AlterTableRenameTable:    {blocking: "RENAME TABLE acquires an exclusive lock but is typically fast"},
	ast.AlterTableForce:          {blocking: "FORCE rebuilds the table and will lock it"},
}

// Analyze classifies a parsed statement. text is the statement source and is
// only consulted for statements the AST does not model directly.
func Analyze(node ast.StmtNode, text string) Analysis {
	a := Analysis{TransactionSafe: true}

	switch stmt := node.(type) {
	case *ast.DropTableStmt:
		a.Kind = "DROP TABLE"
		if stmt.IsView {
			a.Kind = "DROP VIEW"
		} else {
			a.destructive("DROP TABLE will permanently delete the table and all its data")
		}
		a.implicitCommit()
	case *ast.DropDatabaseStmt:
		a.Kind = "DROP DATABASE"
		a.destructive("DROP DATABASE will permanently delete the entire database")
		a.implicitCommit()
	case *ast.DropIndexStmt:
		a.Kind = "DROP INDEX"
		a.block("DROP INDEX may briefly lock the table")
		a.implicitCommit()
	case *ast.CreateTableStmt:
		a.Kind = "CREATE TABLE"
		a.implicitCommit()
	case *ast.CreateDatabaseStmt:
		a.Kind = "CREATE DATABASE"
		a.implicitCommit()
	case *ast.CreateIndexStmt:
		a.Kind = "CREATE INDEX"
		a.block("CREATE INDEX may lock the table for the duration of index creation")
		a.implicitCommit()
	case *ast.CreateViewStmt:
		a.Kind = "CREATE VIEW"
		a.implicitCommit()
	case *ast.AlterTableStmt:
		a.Kind = "ALTER TABLE"
		a.implicitCommit()
		for _, spec := range stmt.Specs {
			a.alterSpec(spec)
		}
	case *ast.AlterDatabaseStmt:
		a.Kind = "ALTER DATABASE"
		a.implicitCommit()
	case *ast.RenameTableStmt:
		a.Kind = "RENAME TABLE"
		a.block("RENAME TABLE acquires an exclusive lock but is typically fast")
		a.implicitCommit()
	case *ast.TruncateTableStmt:
		a.Kind = "TRUNCATE TABLE"
		a.destructive("TRUNCATE TABLE will delete all rows from the table")
		a.block("TRUNCATE TABLE acquires an exclusive lock and removes all data instantly")
		a.implicitCommit()
	case *ast.DeleteStmt:
		a.Kind = "DELETE"
		a.destructive("DELETE will remove rows from the table")
	case *ast.InsertStmt:
		a.Kind = "INSERT"
		if stmt.IsReplace {
			a.Kind = "REPLACE"
		}
	case *ast.UpdateStmt:
		a.Kind = "UPDATE"
	case *ast.SelectStmt, *ast.SetOprStmt:
		a.Kind = "SELECT"
	case *ast.SetStmt:
		a.Kind = "SET"
	case *ast.UseStmt:
		a.Kind = "USE"
	default:
		a.byPrefix(text)
	}

	return a
}

func (a *Analysis) destructive(reason string) {
	a.Destructive = true
	a.DestructiveReason = reason
}

func (a *Analysis) block(reason string) {
	a.Blocking = true
	a.BlockingReasons = append(a.BlockingReasons, reason)
}

func (a *Analysis) implicitCommit() {
	a.TransactionSafe = false
	a.TxUnsafeReason = a.Kind + " causes an implicit commit in MySQL"
}

func (a *Analysis) alterSpec(spec *ast.AlterTableSpec) {
	if spec.Tp == ast.AlterTableAddConstraint {
		reason := "ADD CONSTRAINT may lock the table while validating existing data"
		if spec.Constraint != nil {
			switch spec.Constraint.Tp {
			case ast.ConstraintForeignKey:
				reason = "ADD FOREIGN KEY may lock the table while validating existing data"
			case ast.ConstraintIndex, ast.ConstraintKey, ast.ConstraintUniq,
				ast.ConstraintUniqKey, ast.ConstraintUniqIndex:
				reason = "ADD INDEX may lock the table for the duration of index creation on large tables"
			}
		}
		a.block(reason)
		return
	}

	effect, ok := alterSpecEffects[spec.Tp]
	if !ok {
		return
	}
	if effect.destructive != "" {
		a.destructive(effect.destructive)
	}
	if effect.blocking != "" {
		a.block(effect.blocking)
	}
}

func (a *Analysis) byPrefix(text string) {
	a.Kind = "OTHER"
	upper := strings.ToUpper(strings.Join(strings.Fields(text), " "))

	for _, prefix := range implicitCommitPrefixes {
		if strings.HasPrefix(upper, prefix) {
			a.Kind = prefix
			a.implicitCommit()
			return
		}
	}

	if strings.HasPrefix(upper, "CREATE ") || strings.HasPrefix(upper, "DROP ") || strings.HasPrefix(upper, "ALTER ") {
		a.TransactionSafe = false
		a.TxUnsafeReason = "DDL statement causes implicit commit"
	}
}
