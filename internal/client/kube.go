package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Connection describes how to reach one target cluster.
type Connection struct {
	Name                  string
	Server                string
	Token                 string
	InsecureSkipTLSVerify bool
}

// kubeCluster implements Cluster on top of the dynamic client, with a
// typed clientset for the pod-level helpers.
type kubeCluster struct {
	name         string
	dyn          dynamic.Interface
	typed        kubernetes.Interface
	fieldManager string

	// kind -> resource mapping discovered at connect time. A nil map means
	// discovery failed and kinds are assumed served.
	resources map[string]schema.GroupVersionResource
}

// Connect builds a Cluster handle for the given connection. Discovery runs
// once here; the per-run API resource snapshot is intentionally static.
func Connect(conn Connection, fieldManager string) (Cluster, error) {
	cfg := &rest.Config{
		Host:        conn.Server,
		BearerToken: conn.Token,
		TLSClientConfig: rest.TLSClientConfig{
			Insecure: conn.InsecureSkipTLSVerify,
		},
	}
	return connectWithConfig(conn.Name, cfg, fieldManager)
}

func connectWithConfig(name string, cfg *rest.Config, fieldManager string) (Cluster, error) {
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building dynamic client for %s: %w", name, err)
	}
	typed, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building clientset for %s: %w", name, err)
	}

	c := &kubeCluster{
		name:         name,
		dyn:          dyn,
		typed:        typed,
		fieldManager: fieldManager,
	}
	c.resources = discoverResources(typed.Discovery())
	return c, nil
}

// discoverResources maps served kinds to their preferred group/version.
// A discovery failure yields nil; callers then assume every kind is served
// and let the list call surface the real error.
func discoverResources(dc discovery.DiscoveryInterface) map[string]schema.GroupVersionResource {
	lists, err := dc.ServerPreferredResources()
	if err != nil && lists == nil {
		return nil
	}
	resources := map[string]schema.GroupVersionResource{}
	for _, list := range lists {
		gv, err := schema.ParseGroupVersion(list.GroupVersion)
		if err != nil {
			continue
		}
		for _, r := range list.APIResources {
			if _, seen := resources[r.Kind]; seen {
				continue
			}
			resources[r.Kind] = gv.WithResource(r.Name)
		}
	}
	return resources
}

func (c *kubeCluster) ClusterName() string { return c.name }

func (c *kubeCluster) HasAPIResource(kind string) bool {
	if c.resources == nil {
		return true
	}
	_, ok := c.resources[kind]
	return ok
}

func (c *kubeCluster) gvrFor(kind string) (schema.GroupVersionResource, error) {
	if gvr, ok := c.resources[kind]; ok {
		return gvr, nil
	}
	return schema.GroupVersionResource{}, fmt.Errorf("no API resource for kind %s on %s", kind, c.name)
}

func (c *kubeCluster) wrap(err error, namespace, kind, name string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:      Classify(err),
		Cluster:   c.name,
		Namespace: namespace,
		Resource:  kind,
		Name:      name,
		Err:       err,
	}
}

func (c *kubeCluster) ListItems(ctx context.Context, kind, namespace string, names []string) ([]unstructured.Unstructured, error) {
	gvr, err := c.gvrFor(kind)
	if err != nil {
		return nil, c.wrap(err, namespace, kind, "")
	}
	list, err := c.dyn.Resource(gvr).Namespace(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, c.wrap(err, namespace, kind, "")
	}
	if len(names) == 0 {
		return list.Items, nil
	}
	allowed := map[string]bool{}
	for _, n := range names {
		allowed[n] = true
	}
	items := make([]unstructured.Unstructured, 0, len(names))
	for _, item := range list.Items {
		if allowed[item.GetName()] {
			items = append(items, item)
		}
	}
	return items, nil
}

func (c *kubeCluster) Get(ctx context.Context, namespace, kind, name string) (*unstructured.Unstructured, error) {
	gvr, err := c.gvrFor(kind)
	if err != nil {
		return nil, c.wrap(err, namespace, kind, name)
	}
	obj, err := c.dyn.Resource(gvr).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, c.wrap(err, namespace, kind, name)
	}
	return obj, nil
}

func (c *kubeCluster) Apply(ctx context.Context, namespace string, body *unstructured.Unstructured) error {
	kind := body.GetKind()
	name := body.GetName()
	gvr, err := c.gvrFor(kind)
	if err != nil {
		return c.wrap(err, namespace, kind, name)
	}
	data, err := body.MarshalJSON()
	if err != nil {
		return c.wrap(err, namespace, kind, name)
	}
	force := true
	_, err = c.dyn.Resource(gvr).Namespace(namespace).Patch(
		ctx, name, types.ApplyPatchType, data,
		metav1.PatchOptions{FieldManager: c.fieldManager, Force: &force})
	return c.wrap(err, namespace, kind, name)
}

func (c *kubeCluster) Create(ctx context.Context, namespace string, body *unstructured.Unstructured) error {
	kind := body.GetKind()
	name := body.GetName()
	gvr, err := c.gvrFor(kind)
	if err != nil {
		return c.wrap(err, namespace, kind, name)
	}
	_, err = c.dyn.Resource(gvr).Namespace(namespace).Create(ctx, body, metav1.CreateOptions{FieldManager: c.fieldManager})
	return c.wrap(err, namespace, kind, name)
}

func (c *kubeCluster) Replace(ctx context.Context, namespace string, body *unstructured.Unstructured) error {
	kind := body.GetKind()
	name := body.GetName()
	gvr, err := c.gvrFor(kind)
	if err != nil {
		return c.wrap(err, namespace, kind, name)
	}
	// Full PUT needs the live resourceVersion.
	live, err := c.dyn.Resource(gvr).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return c.wrap(err, namespace, kind, name)
	}
	replacement := body.DeepCopy()
	replacement.SetResourceVersion(live.GetResourceVersion())
	_, err = c.dyn.Resource(gvr).Namespace(namespace).Update(ctx, replacement, metav1.UpdateOptions{FieldManager: c.fieldManager})
	return c.wrap(err, namespace, kind, name)
}

func (c *kubeCluster) Delete(ctx context.Context, namespace, kind, name string, cascade bool) error {
	gvr, err := c.gvrFor(kind)
	if err != nil {
		return c.wrap(err, namespace, kind, name)
	}
	policy := metav1.DeletePropagationBackground
	if !cascade {
		policy = metav1.DeletePropagationOrphan
	}
	err = c.dyn.Resource(gvr).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	return c.wrap(err, namespace, kind, name)
}

func (c *kubeCluster) RemoveLastAppliedConfiguration(ctx context.Context, namespace, kind, name string) error {
	gvr, err := c.gvrFor(kind)
	if err != nil {
		return c.wrap(err, namespace, kind, name)
	}
	patch := []byte(`{"metadata":{"annotations":{"kubectl.kubernetes.io/last-applied-configuration":null}}}`)
	_, err = c.dyn.Resource(gvr).Namespace(namespace).Patch(
		ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	return c.wrap(err, namespace, kind, name)
}

func (c *kubeCluster) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	_, err := c.typed.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err != nil {
		if IsNotFound(c.wrap(err, "", "Namespace", namespace)) {
			return false, nil
		}
		return false, c.wrap(err, "", "Namespace", namespace)
	}
	return true, nil
}

func (c *kubeCluster) OwnedClaimNames(ctx context.Context, namespace, owner string) ([]string, error) {
	pods, err := c.typed.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, c.wrap(err, namespace, "Pod", "")
	}
	var claims []string
	seen := map[string]bool{}
	for _, pod := range pods.Items {
		if !ownedBy(pod.OwnerReferences, owner) {
			continue
		}
		for _, vol := range pod.Spec.Volumes {
			if vol.PersistentVolumeClaim == nil {
				continue
			}
			if !seen[vol.PersistentVolumeClaim.ClaimName] {
				seen[vol.PersistentVolumeClaim.ClaimName] = true
				claims = append(claims, vol.PersistentVolumeClaim.ClaimName)
			}
		}
	}
	return claims, nil
}

func (c *kubeCluster) ResizeClaims(ctx context.Context, namespace string, names []string, size string) error {
	patch := fmt.Appendf(nil, `{"spec":{"resources":{"requests":{"storage":%q}}}}`, size)
	for _, name := range names {
		_, err := c.typed.CoreV1().PersistentVolumeClaims(namespace).Patch(
			ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
		if err != nil {
			return c.wrap(err, namespace, "PersistentVolumeClaim", name)
		}
	}
	return nil
}

func (c *kubeCluster) RecyclePods(ctx context.Context, dryRun bool, namespace, kind, name string) error {
	logger := log.FromContext(ctx)
	if kind != "Secret" && kind != "ConfigMap" {
		return nil
	}
	pods, err := c.typed.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return c.wrap(err, namespace, "Pod", "")
	}
	for _, pod := range pods.Items {
		if !podReferences(&pod, kind, name) {
			continue
		}
		logger.Info("recycling pod", "cluster", c.name, "namespace", namespace,
			"pod", pod.Name, "dependency", kind+"/"+name, "dryRun", dryRun)
		if dryRun {
			continue
		}
		err := c.typed.CoreV1().Pods(namespace).Delete(ctx, pod.Name, metav1.DeleteOptions{})
		if err != nil {
			return c.wrap(err, namespace, "Pod", pod.Name)
		}
	}
	return nil
}

func (c *kubeCluster) StreamLogs(ctx context.Context, namespace, name, dir string) error {
	pods, err := c.typed.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "job-name=" + name,
	})
	if err != nil {
		return c.wrap(err, namespace, "Pod", "")
	}
	for _, pod := range pods.Items {
		req := c.typed.CoreV1().Pods(namespace).GetLogs(pod.Name, &corev1.PodLogOptions{Follow: true})
		stream, err := req.Stream(ctx)
		if err != nil {
			return c.wrap(err, namespace, "Pod", pod.Name)
		}
		path := filepath.Join(dir, pod.Name+".log")
		file, err := os.Create(path)
		if err != nil {
			stream.Close()
			return fmt.Errorf("creating log file %s: %w", path, err)
		}
		_, copyErr := io.Copy(file, stream)
		stream.Close()
		file.Close()
		if copyErr != nil {
			return fmt.Errorf("streaming logs for %s/%s: %w", namespace, pod.Name, copyErr)
		}
	}
	return nil
}

func ownedBy(refs []metav1.OwnerReference, owner string) bool {
	for _, ref := range refs {
		if ref.Name == owner {
			return true
		}
	}
	return false
}

func podReferences(pod *corev1.Pod, kind, name string) bool {
	for _, vol := range pod.Spec.Volumes {
		switch kind {
		case "Secret":
			if vol.Secret != nil && vol.Secret.SecretName == name {
				return true
			}
		case "ConfigMap":
			if vol.ConfigMap != nil && vol.ConfigMap.Name == name {
				return true
			}
		}
	}
	for _, container := range pod.Spec.Containers {
		for _, env := range container.EnvFrom {
			switch kind {
			case "Secret":
				if env.SecretRef != nil && env.SecretRef.Name == name {
					return true
				}
			case "ConfigMap":
				if env.ConfigMapRef != nil && env.ConfigMapRef.Name == name {
					return true
				}
			}
		}
	}
	return false
}
