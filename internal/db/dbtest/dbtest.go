// Package dbtest holds fixtures for tests that run against a SQLite copy of
// the host wiki schema.
package dbtest

import "time"

// SQLiteHostSchema is the subset of the host tables read by the db package.
const SQLiteHostSchema = `
CREATE TABLE "user" (user_id INTEGER PRIMARY KEY, user_name TEXT UNIQUE, user_registration TEXT, user_email_authenticated TEXT);
CREATE TABLE user_groups (ug_user INTEGER, ug_group TEXT, ug_expiry TEXT);
CREATE TABLE actor (actor_id INTEGER PRIMARY KEY, actor_user INTEGER, actor_name TEXT);
CREATE TABLE page (page_id INTEGER PRIMARY KEY, page_namespace INTEGER, page_title TEXT, page_is_redirect INTEGER NOT NULL DEFAULT 0);
CREATE TABLE revision (rev_id INTEGER PRIMARY KEY, rev_page INTEGER, rev_actor INTEGER, rev_timestamp TEXT, rev_parent_id INTEGER NOT NULL DEFAULT 0);
CREATE TABLE archive (ar_id INTEGER PRIMARY KEY, ar_namespace INTEGER, ar_page_id INTEGER, ar_rev_id INTEGER, ar_actor INTEGER, ar_timestamp TEXT, ar_parent_id INTEGER NOT NULL DEFAULT 0);
CREATE TABLE slots (slot_revision_id INTEGER, slot_role_id INTEGER, slot_origin INTEGER);
CREATE TABLE flow_revision (rev_id BLOB PRIMARY KEY, rev_user_id INTEGER, rev_change_type TEXT, rev_mod_state TEXT NOT NULL DEFAULT '');
CREATE TABLE flow_tree_revision (tree_rev_id BLOB PRIMARY KEY, tree_parent_id BLOB);
CREATE TABLE flow_workflow (workflow_id BLOB PRIMARY KEY, workflow_namespace INTEGER);
`

// MW formats t as a host timestamp.
func MW(t time.Time) string {
	return t.UTC().Format("20060102150405")
}
