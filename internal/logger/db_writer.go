package logger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go-automation/internal/database"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap/zapcore"
)

// LogEntry holds the data passed from Zap to the worker
type LogEntry struct {
	Level   zapcore.Level
	Message string
	Caller  string
	Fields  map[string]interface{}
	Time    time.Time
}

// SystemLog is the persisted form of a LogEntry.
type SystemLog struct {
	AppID     string                 `bson:"app_id"`
	Level     string                 `bson:"level"`
	LevelID   int                    `bson:"level_id"`
	Message   string                 `bson:"message"`
	Caller    string                 `bson:"caller,omitempty"`
	Fields    map[string]interface{} `bson:"fields,omitempty"`
	CreatedAt time.Time              `bson:"created_at"`
}

type LogStore interface {
	Insert(ctx context.Context, log SystemLog) error
}

type MongoLogStore struct {
	collection *mongo.Collection
}

func NewMongoLogStore(mongodb *database.MongodbDB) *MongoLogStore {
	return &MongoLogStore{collection: mongodb.DB.Collection("system_logs")}
}

func (s *MongoLogStore) Insert(ctx context.Context, log SystemLog) error {
	_, err := s.collection.InsertOne(ctx, log)
	return err
}

// DBLogWriter handles the async writing
type DBLogWriter struct {
	store   LogStore
	logChan chan LogEntry
	appId   string
	done    chan struct{}
	once    sync.Once
}

func NewDBLogWriter(store LogStore, appId string) *DBLogWriter {
	writer := &DBLogWriter{
		store:   store,
		logChan: make(chan LogEntry, 1000),
		appId:   appId,
		done:    make(chan struct{}),
	}

	go writer.processLogs()

	return writer
}

// AddLog never blocks the caller; entries are dropped when the buffer is full.
func (w *DBLogWriter) AddLog(entry LogEntry) {
	select {
	case w.logChan <- entry:
	default:
		fmt.Println("DB Log Channel Full! Dropping log:", entry.Message)
	}
}

// Close stops accepting entries and waits for the buffer to drain.
func (w *DBLogWriter) Close() {
	w.once.Do(func() {
		close(w.logChan)
		<-w.done
	})
}

func (w *DBLogWriter) processLogs() {
	defer close(w.done)
	for entry := range w.logChan {
		record := SystemLog{
			AppID:     w.appId,
			Level:     entry.Level.String(),
			LevelID:   mapLevelToInt(entry.Level),
			Message:   entry.Message,
			Caller:    entry.Caller,
			Fields:    entry.Fields,
			CreatedAt: entry.Time.UTC(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.store.Insert(ctx, record); err != nil {
			fmt.Println("Failed to persist log entry:", err)
		}
		cancel()
	}
}

func mapLevelToInt(l zapcore.Level) int {
	switch l {
	case zapcore.DebugLevel:
		return 10
	case zapcore.InfoLevel:
		return 20
	case zapcore.WarnLevel:
		return 30
	case zapcore.ErrorLevel:
		return 40
	case zapcore.FatalLevel:
		return 50
	default:
		return 20
	}
}
