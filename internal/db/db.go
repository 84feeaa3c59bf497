// ABOUTME: SQLite traffic log for host-observed plugin messages
// ABOUTME: Records instance lifecycles and every request/response line in both directions

package db

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harper/plugkit/internal/logger"
)

//go:embed schema.sql
var schemaSQL string

type DB struct {
	conn *sql.DB
}

type MessageDirection string

const (
	DirectionHostToPlugin MessageDirection = "host_to_plugin"
	DirectionPluginToHost MessageDirection = "plugin_to_host"
)

// Open opens or creates the SQLite traffic log.
func Open(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Debug("traffic log initialized at %s", dbPath)
	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// CreateInstance records a newly spawned plugin instance.
func (db *DB) CreateInstance(instanceID, command string) error {
	_, err := db.conn.Exec(
		"INSERT INTO instances (id, command) VALUES (?, ?)",
		instanceID, command,
	)
	if err != nil {
		return fmt.Errorf("failed to create instance record: %w", err)
	}
	return nil
}

// UpdateInstancePluginName stores the descriptor name once metadata arrives.
func (db *DB) UpdateInstancePluginName(instanceID, pluginName string) error {
	_, err := db.conn.Exec(
		"UPDATE instances SET plugin_name = ? WHERE id = ?",
		pluginName, instanceID,
	)
	if err != nil {
		return fmt.Errorf("failed to update plugin name: %w", err)
	}
	return nil
}

// CloseInstance marks an instance as stopped.
func (db *DB) CloseInstance(instanceID string) error {
	_, err := db.conn.Exec(
		"UPDATE instances SET stopped_at = CURRENT_TIMESTAMP WHERE id = ?",
		instanceID,
	)
	if err != nil {
		return fmt.Errorf("failed to close instance record: %w", err)
	}
	return nil
}

// LogMessage logs one wire line with its direction and parsed envelope details.
func (db *DB) LogMessage(instanceID string, direction MessageDirection, rawMessage []byte) error {
	// Parse the envelope to extract useful fields; a line that does not
	// parse is still logged verbatim.
	var msg map[string]interface{}
	var messageType, method string
	var jsonrpcID *int64

	if err := json.Unmarshal(rawMessage, &msg); err == nil {
		if _, hasMethod := msg["method"]; hasMethod {
			if _, hasID := msg["id"]; hasID {
				messageType = "request"
			} else {
				messageType = "notification"
			}
			if m, ok := msg["method"].(string); ok {
				method = m
			}
		} else if _, hasResult := msg["result"]; hasResult {
			messageType = "response"
		} else if _, hasError := msg["error"]; hasError {
			messageType = "response"
		}

		if id, ok := msg["id"]; ok {
			switch v := id.(type) {
			case float64:
				idVal := int64(v)
				jsonrpcID = &idVal
			case int64:
				jsonrpcID = &v
			case int:
				idVal := int64(v)
				jsonrpcID = &idVal
			}
		}
	}

	_, err := db.conn.Exec(
		`INSERT INTO messages (instance_id, direction, message_type, method, jsonrpc_id, raw_message)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		instanceID, direction, messageType, method, jsonrpcID, string(rawMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to log message: %w", err)
	}
	return nil
}

// Message represents a logged message
type Message struct {
	ID          int64
	InstanceID  string
	Direction   MessageDirection
	MessageType string
	Method      string
	JSONRPCId   *int64
	RawMessage  string
	Timestamp   time.Time
}

// GetInstanceMessages retrieves all logged messages for one instance in order.
func (db *DB) GetInstanceMessages(instanceID string) ([]Message, error) {
	rows, err := db.conn.Query(
		`SELECT id, instance_id, direction, message_type, method, jsonrpc_id, raw_message, timestamp
		 FROM messages WHERE instance_id = ? ORDER BY timestamp ASC, id ASC`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var jsonrpcID sql.NullInt64
		var method sql.NullString
		var messageType sql.NullString

		err := rows.Scan(&m.ID, &m.InstanceID, &m.Direction, &messageType, &method, &jsonrpcID, &m.RawMessage, &m.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if jsonrpcID.Valid {
			m.JSONRPCId = &jsonrpcID.Int64
		}
		if method.Valid {
			m.Method = method.String
		}
		if messageType.Valid {
			m.MessageType = messageType.String
		}

		messages = append(messages, m)
	}

	return messages, nil
}

// Instance represents a logged plugin instance
type Instance struct {
	ID         string
	PluginName string
	Command    string
	StartedAt  time.Time
	StoppedAt  *time.Time
}

// GetAllInstances retrieves all recorded instances, newest first.
func (db *DB) GetAllInstances() ([]Instance, error) {
	rows, err := db.conn.Query(
		`SELECT id, plugin_name, command, started_at, stopped_at
		 FROM instances ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		var inst Instance
		var pluginName sql.NullString
		var stoppedAt sql.NullTime

		err := rows.Scan(&inst.ID, &pluginName, &inst.Command, &inst.StartedAt, &stoppedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		if pluginName.Valid {
			inst.PluginName = pluginName.String
		}
		if stoppedAt.Valid {
			inst.StoppedAt = &stoppedAt.Time
		}

		instances = append(instances, inst)
	}

	return instances, nil
}
