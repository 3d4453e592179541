package notify

import (
	"fmt"
	"math"
	"strings"

	"github.com/artpar/ecs-deploy/internal/core/service"
	"github.com/artpar/ecs-deploy/internal/core/taskdef"
)

const (
	progressCells = 20
	finishedColor = "#7CD197"
)

// message is a Slack chat message as accepted by chat.postMessage,
// chat.update and incoming webhooks.
type message struct {
	Channel     string       `json:"channel,omitempty"`
	TS          string       `json:"ts,omitempty"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments,omitempty"`
	AsUser      bool         `json:"as_user,omitempty"`
}

type attachment struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// ProgressBar renders running and pending tasks out of desired as a bar of 20
// cells: running "█", pending "▒", missing "░".
func ProgressBar(running, pending, desired int) string {
	if desired <= 0 {
		return ""
	}
	done := cells(running, desired)
	waiting := min(cells(pending, desired), progressCells-done)
	return strings.Repeat("█", done) + strings.Repeat("▒", waiting) +
		strings.Repeat("░", progressCells-done-waiting)
}

func cells(n, desired int) int {
	c := int(math.Round(float64(n) * 100 / float64(desired) / 5))
	return max(0, min(c, progressCells))
}

func counts(d service.Deployment) string {
	return fmt.Sprintf("Running: %d Pending: %d  Desired: %d", d.RunningCount, d.PendingCount, d.DesiredCount)
}

// consoleLinks renders Slack links to the cluster and service console pages.
type consoleLinks struct {
	region string
}

func (l consoleLinks) cluster(cluster string) string {
	return fmt.Sprintf("https://%s.console.aws.amazon.com/ecs/home?region=%s#/clusters/%s",
		l.region, l.region, cluster)
}

func (l consoleLinks) service(cluster, name string) string {
	return fmt.Sprintf("https://%s.console.aws.amazon.com/ecs/home?region=%s#/clusters/%s/services/%s/deployments",
		l.region, l.region, cluster, name)
}

func (l consoleLinks) heading(snap service.Snapshot) string {
	return fmt.Sprintf("<%s|%s> / <%s|%s>",
		l.cluster(snap.Cluster), snap.Cluster, l.service(snap.Cluster, snap.Name), snap.Name)
}

func images(td *taskdef.TaskDefinition) string {
	if td == nil {
		return ""
	}
	return strings.Join(td.Images(), ",")
}

// =============================================================================
// Payloads
// =============================================================================

func (l consoleLinks) startMessage(snap service.Snapshot, td *taskdef.TaskDefinition) message {
	return message{
		Text: fmt.Sprintf("Deploying service %s \n_Image: %s_", l.heading(snap), images(td)),
	}
}

func (l consoleLinks) progressMessage(snap service.Snapshot, primary service.Deployment) message {
	msg := message{
		Attachments: []attachment{{
			Title: "PRIMARY " + l.heading(snap),
			Text:  ProgressBar(primary.RunningCount, primary.PendingCount, primary.DesiredCount) + "\t" + counts(primary),
		}},
	}
	for _, d := range snap.Active() {
		msg.Attachments = append(msg.Attachments, attachment{
			Title: "ACTIVE",
			Text:  ProgressBar(d.RunningCount, d.PendingCount, d.DesiredCount) + "\t" + counts(d),
		})
	}
	return msg
}

func (l consoleLinks) finishMessage(snap service.Snapshot, primary service.Deployment, td *taskdef.TaskDefinition) message {
	return message{
		Text: fmt.Sprintf("Deploy finished: %s\n_Image: %s_", l.heading(snap), images(td)),
		Attachments: []attachment{{
			Title: "Deploy finished!",
			Color: finishedColor,
			Text:  counts(primary),
		}},
	}
}
