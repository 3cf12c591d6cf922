package cluster

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
)

const testNamespace = "bot-platform"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBot() domain.Bot {
	return domain.Bot{
		ID:       "3f29ac81-9c1d-4c3a-b2a1-6f55d0e21c77",
		OwnerID:  "owner-1",
		Name:     "weatherbot",
		Token:    "123456:ABC",
		Features: []string{"clima", "chistes"},
	}
}

func readyPod(botID, name string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
			Labels:    map[string]string{botIDLabel: botID},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionTrue},
			},
		},
	}
}

func TestDeployCreatesWorkload(t *testing.T) {
	bot := testBot()
	client := fake.NewSimpleClientset(readyPod(bot.ID, "bot-pod-1"))
	deployer := NewWithClient(client, testNamespace, "bot-secrets", 3000, time.Second, testLogger())

	workload, err := deployer.Deploy(context.Background(), bot, "local/bot-weatherbot:3f29ac819c1d")
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}

	name := ResourceName(bot.Name, bot.ID)
	if workload.DeploymentName != name || workload.ServiceName != name {
		t.Fatalf("unexpected workload names: %+v", workload)
	}
	if !strings.Contains(workload.ClusterHost, name) || !strings.Contains(workload.ClusterHost, testNamespace) {
		t.Fatalf("unexpected cluster host %q", workload.ClusterHost)
	}

	deployment, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), name, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if *deployment.Spec.Replicas != 1 {
		t.Fatalf("expected one replica, got %d", *deployment.Spec.Replicas)
	}
	if deployment.Labels[ownerLabel] != bot.OwnerID || deployment.Labels[botIDLabel] != bot.ID {
		t.Fatalf("missing selection labels: %v", deployment.Labels)
	}

	container := deployment.Spec.Template.Spec.Containers[0]
	env := map[string]string{}
	secretRefs := map[string]bool{}
	for _, v := range container.Env {
		if v.ValueFrom != nil && v.ValueFrom.SecretKeyRef != nil {
			secretRefs[v.Name] = true
			continue
		}
		env[v.Name] = v.Value
	}
	if env["BOT_NAME"] != "weatherbot" || env["BOT_TOKEN"] != "123456:ABC" {
		t.Fatalf("bot identity env missing: %v", env)
	}
	if env["SERVICES"] != "clima,chistes" {
		t.Fatalf("expected explicit feature list env, got %q", env["SERVICES"])
	}
	if !secretRefs["WEATHER_API_KEY"] {
		t.Fatalf("expected WEATHER_API_KEY secret ref, got %v", secretRefs)
	}
	if secretRefs["GEMINI_API_KEY"] {
		t.Fatal("unexpected secret ref for unselected feature")
	}
	if container.LivenessProbe == nil || container.LivenessProbe.HTTPGet.Path != healthPath {
		t.Fatalf("unexpected liveness probe: %+v", container.LivenessProbe)
	}
	if container.ReadinessProbe == nil || container.ReadinessProbe.InitialDelaySeconds != readinessInitialDelay {
		t.Fatalf("unexpected readiness probe: %+v", container.ReadinessProbe)
	}

	if _, err := client.CoreV1().Services(testNamespace).Get(context.Background(), name, metav1.GetOptions{}); err != nil {
		t.Fatalf("get service: %v", err)
	}
}

func TestDeployAppliesNewImageOnResubmit(t *testing.T) {
	bot := testBot()
	client := fake.NewSimpleClientset(readyPod(bot.ID, "bot-pod-1"))
	deployer := NewWithClient(client, testNamespace, "bot-secrets", 3000, time.Second, testLogger())

	if _, err := deployer.Deploy(context.Background(), bot, "local/bot-weatherbot:aaa"); err != nil {
		t.Fatalf("first Deploy returned error: %v", err)
	}
	if _, err := deployer.Deploy(context.Background(), bot, "local/bot-weatherbot:bbb"); err != nil {
		t.Fatalf("second Deploy returned error: %v", err)
	}

	name := ResourceName(bot.Name, bot.ID)
	deployment, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), name, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if image := deployment.Spec.Template.Spec.Containers[0].Image; image != "local/bot-weatherbot:bbb" {
		t.Fatalf("expected updated image, got %q", image)
	}
}

func TestDeployTimesOutWithoutReadyPod(t *testing.T) {
	bot := testBot()
	client := fake.NewSimpleClientset()
	deployer := NewWithClient(client, testNamespace, "bot-secrets", 3000, 50*time.Millisecond, testLogger())

	_, err := deployer.Deploy(context.Background(), bot, "local/bot-weatherbot:aaa")
	if err == nil {
		t.Fatal("expected readiness timeout error")
	}
	if !strings.Contains(err.Error(), "ready") {
		t.Fatalf("expected readiness wait error, got %v", err)
	}
	// The workload object survives the timeout so teardown can remove it.
	name := ResourceName(bot.Name, bot.ID)
	if _, err := client.AppsV1().Deployments(testNamespace).Get(context.Background(), name, metav1.GetOptions{}); err != nil {
		t.Fatalf("expected deployment to remain after timeout: %v", err)
	}
}

func TestDeployFailsFastOnFailedPod(t *testing.T) {
	bot := testBot()
	pod := readyPod(bot.ID, "bot-pod-1")
	pod.Status.Phase = corev1.PodFailed
	pod.Status.Message = "image pull backoff"
	client := fake.NewSimpleClientset(pod)
	deployer := NewWithClient(client, testNamespace, "bot-secrets", 3000, time.Second, testLogger())

	_, err := deployer.Deploy(context.Background(), bot, "local/bot-weatherbot:aaa")
	if err == nil || !strings.Contains(err.Error(), "image pull backoff") {
		t.Fatalf("expected pod failure message in error, got %v", err)
	}
}

func TestRemoveReportsTypedOutcomes(t *testing.T) {
	bot := testBot()
	client := fake.NewSimpleClientset(readyPod(bot.ID, "bot-pod-1"))
	deployer := NewWithClient(client, testNamespace, "bot-secrets", 3000, time.Second, testLogger())

	if _, err := deployer.Deploy(context.Background(), bot, "local/bot-weatherbot:aaa"); err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}

	removals := deployer.Remove(context.Background(), bot)
	if len(removals) != 2 {
		t.Fatalf("expected 2 removals, got %d", len(removals))
	}
	for _, removal := range removals {
		if removal.Outcome != domain.OutcomeRemoved {
			t.Fatalf("expected removed outcome for %s, got %s", removal.Resource, removal.Outcome)
		}
	}

	// Second removal converges on not-found.
	removals = deployer.Remove(context.Background(), bot)
	for _, removal := range removals {
		if removal.Outcome != domain.OutcomeNotFound {
			t.Fatalf("expected not-found outcome for %s, got %s", removal.Resource, removal.Outcome)
		}
		if !removal.Converged() {
			t.Fatalf("expected not-found to count as converged")
		}
	}
}
