package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// CleanupVerifier enqueues a delayed HTTP task that asks an operator-owned
// endpoint to confirm a contained session's cgroup scope was actually torn
// down — a second line of defense behind the Containment Controller's own
// Cleanup, for the case where the controller process itself is killed
// before Cleanup runs.
type CleanupVerifier struct {
	client    *cloudtasks.Client
	queuePath string
}

func NewCleanupVerifier(ctx context.Context, projectID, locationID, queueID string) (*CleanupVerifier, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("remote: cloudtasks.NewClient: %w", err)
	}
	queuePath := fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID)
	return &CleanupVerifier{client: client, queuePath: queuePath}, nil
}

type cleanupPayload struct {
	SessionID string `json:"session_id"`
	CgroupPath string `json:"cgroup_path"`
}

// Enqueue schedules a verification callback to callbackURL after delay.
// Enqueue failures are logged, never escalated — the primary cleanup path
// is the Containment Controller itself; this is a backstop.
func (v *CleanupVerifier) Enqueue(sessionID, cgroupPath, callbackURL string, delay time.Duration) {
	payload, err := json.Marshal(cleanupPayload{SessionID: sessionID, CgroupPath: cgroupPath})
	if err != nil {
		slog.Error("remote: marshal cleanup payload failed", "error", err)
		return
	}

	req := &taskspb.CreateTaskRequest{
		Parent: v.queuePath,
		Task: &taskspb.Task{
			ScheduleTime: timestamppb.New(time.Now().Add(delay)),
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        callbackURL,
					Headers:    map[string]string{"Content-Type": "application/json"},
					Body:       payload,
				},
			},
		},
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := v.client.CreateTask(ctx, req); err != nil {
			slog.Error("remote: cloud tasks enqueue failed", "session_id", sessionID, "error", err)
		}
	}()
}

func (v *CleanupVerifier) Close() error {
	return v.client.Close()
}
