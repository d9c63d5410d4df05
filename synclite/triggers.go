// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

import (
	"bytes"
	"database/sql"
	"fmt"
	"strings"
	"text/template"
)

// triggerData holds the fields needed for trigger template rendering.
type triggerData struct {
	TableName  string
	NewRowJSON string
}

// Change capture triggers. Both are gated on apply_mode so that server
// changes applied during a sync session are not journaled back.
//
// Deletes arrive here as tombstone updates (is_deleted 0 -> 1), which is why
// there is no AFTER DELETE trigger: hard deletes only happen in apply mode
// when the server has confirmed a tombstone.

const insertTriggerTemplate = `CREATE TRIGGER IF NOT EXISTS trg_{{.TableName}}_ai
AFTER INSERT ON {{.TableName}}
WHEN COALESCE((SELECT apply_mode FROM sync_client_info WHERE id = 1), 0) = 0
BEGIN
	INSERT INTO sync_journal(entity_type, record_id, op, payload, local_ts)
	VALUES ('{{.TableName}}', NEW.id, 'INSERT', {{.NewRowJSON}}, NEW.updated_at);
END`

const updateTriggerTemplate = `CREATE TRIGGER IF NOT EXISTS trg_{{.TableName}}_au
AFTER UPDATE ON {{.TableName}}
WHEN COALESCE((SELECT apply_mode FROM sync_client_info WHERE id = 1), 0) = 0
	AND (NEW.sync_status = 'pending' OR NEW.is_deleted != OLD.is_deleted)
BEGIN
	INSERT INTO sync_journal(entity_type, record_id, op, payload, local_ts)
	VALUES ('{{.TableName}}', NEW.id,
		CASE WHEN NEW.is_deleted = 1 THEN 'DELETE' ELSE 'UPDATE' END,
		CASE WHEN NEW.is_deleted = 1 THEN NULL ELSE {{.NewRowJSON}} END,
		NEW.updated_at);
END`

// buildJSONObjectExpr renders a SQLite json_object() call over the table's
// payload columns.
func buildJSONObjectExpr(spec *tableSpec, prefix string) string {
	var pairs []string
	for _, col := range spec.Columns {
		pairs = append(pairs, fmt.Sprintf("'%s', %s.%s", col, prefix, col))
	}
	return fmt.Sprintf("json_object(%s)", strings.Join(pairs, ", "))
}

// createTriggersForTable creates the journal triggers for one synced table.
func createTriggersForTable(db *sql.DB, spec *tableSpec) error {
	data := triggerData{
		TableName:  spec.Name,
		NewRowJSON: buildJSONObjectExpr(spec, "NEW"),
	}

	templates := []struct {
		name     string
		template string
	}{
		{"insert", insertTriggerTemplate},
		{"update", updateTriggerTemplate},
	}

	for _, tmpl := range templates {
		t, err := template.New(tmpl.name).Parse(tmpl.template)
		if err != nil {
			return fmt.Errorf("failed to parse %s trigger template for table %s: %w", tmpl.name, spec.Name, err)
		}

		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return fmt.Errorf("failed to execute %s trigger template for table %s: %w", tmpl.name, spec.Name, err)
		}

		if _, err := db.Exec(buf.String()); err != nil {
			return fmt.Errorf("failed to create %s trigger for table %s: %w", tmpl.name, spec.Name, err)
		}
	}

	return nil
}
