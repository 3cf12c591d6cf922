// Package cluster renders and applies the Kubernetes workload for a bot:
// a one-replica Deployment plus a ClusterIP Service, both named
// deterministically from the descriptor.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"

	"github.com/mauroas7/Tardia-Plataforma/internal/domain"
	"github.com/mauroas7/Tardia-Plataforma/internal/feature"
)

const (
	botIDLabel   = "tardia.dev/bot-id"
	ownerLabel   = "tardia.dev/owner-id"
	botTypeLabel = "tardia.dev/type"

	healthPath = "/health"

	livenessInitialDelay  = 30
	livenessPeriod        = 10
	readinessInitialDelay = 5
	readinessPeriod       = 5

	readinessPollInterval = 2 * time.Second
)

// Workload contains resolved cluster metadata once the bot is ready.
type Workload struct {
	DeploymentName string
	ServiceName    string
	ClusterHost    string
}

// Deployer provisions bot workloads inside Kubernetes.
type Deployer struct {
	client           kubernetes.Interface
	namespace        string
	secretName       string
	port             int
	readinessTimeout time.Duration
	logger           *slog.Logger
}

// New creates a Kubernetes-backed deployer. It prefers in-cluster
// configuration and falls back to KUBECONFIG when running locally.
func New(namespace, secretName string, port int, readinessTimeout time.Duration, log *slog.Logger) (*Deployer, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := strings.TrimSpace(os.Getenv("KUBECONFIG"))
		if kubeconfig == "" {
			return nil, fmt.Errorf("create in-cluster config: %w", err)
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("create kubeconfig client: %w", err)
		}
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return NewWithClient(clientset, namespace, secretName, port, readinessTimeout, log), nil
}

// NewWithClient wires a deployer over an existing clientset.
func NewWithClient(client kubernetes.Interface, namespace, secretName string, port int, readinessTimeout time.Duration, log *slog.Logger) *Deployer {
	if readinessTimeout <= 0 {
		readinessTimeout = 2 * time.Minute
	}
	if port <= 0 {
		port = 3000
	}
	return &Deployer{
		client:           client,
		namespace:        namespace,
		secretName:       secretName,
		port:             port,
		readinessTimeout: readinessTimeout,
		logger:           log,
	}
}

// Deploy applies or updates the bot's Deployment and Service, then blocks
// until a pod reports ready or the readiness timeout elapses. Re-submitting
// an unchanged manifest is a no-op; a new image tag triggers a rolling
// update.
func (d *Deployer) Deploy(ctx context.Context, bot domain.Bot, image string) (Workload, error) {
	name := ResourceName(bot.Name, bot.ID)
	labels := map[string]string{
		botIDLabel:   bot.ID,
		ownerLabel:   bot.OwnerID,
		botTypeLabel: "telegram-bot",
	}

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas:             ptr.To(int32(1)),
			RevisionHistoryLimit: ptr.To(int32(1)),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{botIDLabel: bot.ID},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{d.botContainer(bot, image)},
				},
			},
		},
	}
	if err := d.applyDeployment(ctx, deployment); err != nil {
		return Workload{}, err
	}

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{botIDLabel: bot.ID},
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Port:       80,
				TargetPort: intstr.FromInt(d.port),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
	if err := d.applyService(ctx, service); err != nil {
		return Workload{}, err
	}

	if err := d.waitForReadyPod(ctx, bot.ID); err != nil {
		return Workload{}, err
	}

	return Workload{
		DeploymentName: name,
		ServiceName:    name,
		ClusterHost:    fmt.Sprintf("%s.%s.svc.cluster.local", name, d.namespace),
	}, nil
}

// Remove deletes the bot's Deployment and Service, reporting a typed
// outcome per resource. Absent resources are convergence, not failure.
func (d *Deployer) Remove(ctx context.Context, bot domain.Bot) []domain.Removal {
	name := ResourceName(bot.Name, bot.ID)
	removals := make([]domain.Removal, 0, 2)

	deploymentErr := d.client.AppsV1().Deployments(d.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	removals = append(removals, classifyRemoval("deployment", deploymentErr))

	serviceErr := d.client.CoreV1().Services(d.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	removals = append(removals, classifyRemoval("service", serviceErr))

	return removals
}

func classifyRemoval(resource string, err error) domain.Removal {
	removal := domain.Removal{Resource: resource}
	switch {
	case err == nil:
		removal.Outcome = domain.OutcomeRemoved
	case apierrors.IsNotFound(err):
		removal.Outcome = domain.OutcomeNotFound
	default:
		removal.Outcome = domain.OutcomeFailed
		removal.Err = err
	}
	return removal
}

func (d *Deployer) botContainer(bot domain.Bot, image string) corev1.Container {
	env := []corev1.EnvVar{
		{Name: "BOT_NAME", Value: bot.Name},
		{Name: "BOT_TOKEN", Value: bot.Token},
		{Name: "SERVICES", Value: strings.Join(bot.Features, ",")},
		{Name: "PORT", Value: fmt.Sprintf("%d", d.port)},
	}
	for _, key := range feature.RequiredSecrets(bot.Features) {
		env = append(env, corev1.EnvVar{
			Name: key,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: d.secretName},
					Key:                  secretKeyFor(key),
					Optional:             ptr.To(true),
				},
			},
		})
	}

	probe := func(initialDelay, period int32) *corev1.Probe {
		return &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: healthPath,
					Port: intstr.FromInt(d.port),
				},
			},
			InitialDelaySeconds: initialDelay,
			PeriodSeconds:       period,
		}
	}

	return corev1.Container{
		Name:  "bot",
		Image: image,
		Ports: []corev1.ContainerPort{{Name: "http", ContainerPort: int32(d.port)}},
		Env:   env,
		Resources: corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("100m"),
				corev1.ResourceMemory: resource.MustParse("128Mi"),
			},
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("200m"),
				corev1.ResourceMemory: resource.MustParse("256Mi"),
			},
		},
		LivenessProbe:  probe(livenessInitialDelay, livenessPeriod),
		ReadinessProbe: probe(readinessInitialDelay, readinessPeriod),
	}
}

// secretKeyFor maps an env name like WEATHER_API_KEY to the platform
// secret's key convention (weather-api-key).
func secretKeyFor(envName string) string {
	return strings.ReplaceAll(strings.ToLower(envName), "_", "-")
}

func (d *Deployer) applyDeployment(ctx context.Context, desired *appsv1.Deployment) error {
	deployments := d.client.AppsV1().Deployments(d.namespace)
	_, err := deployments.Create(ctx, desired, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("create deployment: %w", err)
	}
	existing, getErr := deployments.Get(ctx, desired.Name, metav1.GetOptions{})
	if getErr != nil {
		return fmt.Errorf("get deployment: %w", getErr)
	}
	desired.ResourceVersion = existing.ResourceVersion
	if _, err := deployments.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	return nil
}

func (d *Deployer) applyService(ctx context.Context, desired *corev1.Service) error {
	services := d.client.CoreV1().Services(d.namespace)
	_, err := services.Create(ctx, desired, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("create service: %w", err)
	}
	existing, getErr := services.Get(ctx, desired.Name, metav1.GetOptions{})
	if getErr != nil {
		return fmt.Errorf("get service: %w", getErr)
	}
	desired.ResourceVersion = existing.ResourceVersion
	desired.Spec.ClusterIP = existing.Spec.ClusterIP
	desired.Spec.ClusterIPs = existing.Spec.ClusterIPs
	if _, err := services.Update(ctx, desired, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	return nil
}

func (d *Deployer) waitForReadyPod(ctx context.Context, botID string) error {
	selector := fmt.Sprintf("%s=%s", botIDLabel, botID)
	err := wait.PollUntilContextTimeout(ctx, readinessPollInterval, d.readinessTimeout, true, func(ctx context.Context) (bool, error) {
		pods, err := d.client.CoreV1().Pods(d.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return false, err
		}
		for _, pod := range pods.Items {
			if pod.Status.Phase == corev1.PodFailed {
				return false, fmt.Errorf("bot pod failed: %s", podFailureMessage(&pod))
			}
			if pod.Status.Phase == corev1.PodRunning && isPodReady(&pod) {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("wait for bot pod ready: %w", err)
	}
	return nil
}

func podFailureMessage(pod *corev1.Pod) string {
	if pod.Status.Message != "" {
		return pod.Status.Message
	}
	for _, status := range pod.Status.ContainerStatuses {
		if status.State.Terminated != nil && status.State.Terminated.Message != "" {
			return status.State.Terminated.Message
		}
		if status.State.Waiting != nil && status.State.Waiting.Message != "" {
			return status.State.Waiting.Message
		}
	}
	return pod.Status.Reason
}

func isPodReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
