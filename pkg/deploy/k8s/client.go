// Package k8s drives worker fleets as bare Kubernetes pods that exit when their workload ends.
package k8s

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/yaml"

	"yarrow/pkg/config"
	"yarrow/pkg/constants"
	"yarrow/pkg/interfaces"
	"yarrow/pkg/logger"
)

// ErrImageRequired is returned when neither the config nor the pod template names a worker image
var ErrImageRequired = errors.New("kubernetes workers need an image: set cloud.k8s.image or a container image in cloud.k8s.pod_template")

var (
	// Kubernetes DNS-1123 label specification: lowercase letters, numbers, '-', must start and end with alphanumeric
	dns1123LabelRegex = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
)

// validatePodName checks that name is usable as a pod name
func validatePodName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("name too long: %d characters (max 63)", len(name))
	}
	if !dns1123LabelRegex.MatchString(name) {
		return fmt.Errorf("invalid name %q: must consist of lowercase alphanumeric characters or '-', and must start and end with an alphanumeric character", name)
	}
	return nil
}

// Client implements interfaces.CloudFleetClient with one pod per worker
type Client struct {
	clientset  kubernetes.Interface
	namespace  string
	image      string
	namePrefix string
	base       *corev1.Pod
}

// NewClient creates a client from in-cluster configuration, falling back to the local kubeconfig
func NewClient(ctx context.Context, cfg config.K8sConfig, namePrefix string) (*Client, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
		restConfig, err = kubeConfig.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	c, err := NewClientWithClientset(clientset, cfg, namePrefix)
	if err != nil {
		return nil, err
	}
	logger.InfoCtx(ctx, "Kubernetes client initialized: namespace=%s, image=%s", c.namespace, c.image)
	return c, nil
}

// NewClientWithClientset creates a client over an existing clientset
func NewClientWithClientset(clientset kubernetes.Interface, cfg config.K8sConfig, namePrefix string) (*Client, error) {
	if err := validatePodName(namePrefix + "1"); err != nil {
		return nil, fmt.Errorf("invalid name prefix: %w", err)
	}

	base := &corev1.Pod{}
	if cfg.PodTemplate != "" {
		data, err := os.ReadFile(cfg.PodTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to read pod template: %w", err)
		}
		if err := yaml.Unmarshal(data, base); err != nil {
			return nil, fmt.Errorf("failed to parse pod template: %w", err)
		}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = base.Namespace
	}
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	// No stock image carries the workload, so one must be configured.
	image := cfg.Image
	if image == "" && (len(base.Spec.Containers) == 0 || base.Spec.Containers[0].Image == "") {
		return nil, ErrImageRequired
	}

	return &Client{
		clientset:  clientset,
		namespace:  namespace,
		image:      image,
		namePrefix: namePrefix,
		base:       base,
	}, nil
}

// ListInstances lists the fleet's pods
func (c *Client) ListInstances(ctx context.Context) ([]*interfaces.InstanceView, error) {
	pods, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(c.selector()).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	views := make([]*interfaces.InstanceView, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		views = append(views, &interfaces.InstanceView{
			Name:   pod.Name,
			Status: string(podStatus(pod)),
		})
	}
	return views, nil
}

// BulkCreate creates one pod per requested name. It fails only when fewer than
// req.MinCount pods could be created.
func (c *Client) BulkCreate(ctx context.Context, req *interfaces.BulkCreateRequest) (*interfaces.Operation, error) {
	op := &interfaces.Operation{
		Kind:      "bulkCreate",
		Target:    req.NamePattern,
		StartedAt: time.Now(),
	}

	created := 0
	var failures []string
	for i, name := range req.Names {
		pod := c.buildPod(name, i+1, req)
		if _, err := c.clientset.CoreV1().Pods(c.namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
			logger.WarnCtx(ctx, "Failed to create pod %s: %v", name, err)
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		created++
	}

	op.ID = fmt.Sprintf("%s%d-pods", c.namePrefix, created)
	op.Done = true
	op.Error = strings.Join(failures, "; ")

	if created < req.MinCount {
		return nil, fmt.Errorf("created %d of %d pods (minimum %d): %s", created, len(req.Names), req.MinCount, op.Error)
	}
	return op, nil
}

// DeleteInstance deletes the named pod; a pod that is already gone counts as deleted
func (c *Client) DeleteInstance(ctx context.Context, name string) (*interfaces.Operation, error) {
	err := c.clientset.CoreV1().Pods(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("failed to delete pod %s: %w", name, err)
	}
	return &interfaces.Operation{
		ID:        name,
		Kind:      "delete",
		Target:    name,
		Done:      err != nil,
		StartedAt: time.Now(),
	}, nil
}

func (c *Client) selector() map[string]string {
	return map[string]string{
		constants.LabelManagedBy: constants.ManagedByYarrow,
		constants.LabelApp:       strings.Trim(c.namePrefix, "-"),
	}
}

// buildPod derives a worker pod from the base template
func (c *Client) buildPod(name string, index int, req *interfaces.BulkCreateRequest) *corev1.Pod {
	pod := c.base.DeepCopy()
	pod.ObjectMeta = metav1.ObjectMeta{
		Name:        name,
		Namespace:   c.namespace,
		Labels:      make(map[string]string),
		Annotations: c.base.Annotations,
	}
	for k, v := range c.base.Labels {
		pod.Labels[k] = v
	}
	for k, v := range req.Labels {
		if len(validation.IsQualifiedName(k)) == 0 && len(validation.IsValidLabelValue(v)) == 0 {
			pod.Labels[k] = v
		}
	}
	for k, v := range c.selector() {
		pod.Labels[k] = v
	}
	pod.Labels[constants.LabelIndex] = strconv.Itoa(index)

	pod.Spec.RestartPolicy = corev1.RestartPolicyNever
	if len(pod.Spec.Containers) == 0 {
		pod.Spec.Containers = []corev1.Container{{
			Name:  constants.DefaultWorkerContainer,
			Image: c.image,
		}}
	}
	container := &pod.Spec.Containers[0]
	if container.Image == "" {
		container.Image = c.image
	}
	container.Command = []string{"/bin/sh", "-c", req.StartupScript}
	container.Args = nil
	return pod
}

// podStatus maps pod state onto the worker status lattice
func podStatus(pod *corev1.Pod) constants.WorkerStatus {
	if pod.DeletionTimestamp != nil {
		return constants.WorkerStatusStopping
	}
	switch pod.Status.Phase {
	case corev1.PodPending, "":
		if pod.Spec.NodeName == "" {
			return constants.WorkerStatusProvisioning
		}
		return constants.WorkerStatusStaging
	case corev1.PodRunning:
		return constants.WorkerStatusRunning
	case corev1.PodSucceeded, corev1.PodFailed:
		return constants.WorkerStatusTerminated
	default:
		return constants.WorkerStatus(strings.ToUpper(string(pod.Status.Phase)))
	}
}
