// Package clienttest provides an in-memory client.Cluster for tests.
package clienttest

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/stategraph-sh/reconciler/internal/client"
)

// Call records one provider method invocation.
type Call struct {
	Method    string
	Namespace string
	Kind      string
	Name      string
	Cascade   bool
	Size      string
}

type storedObject struct {
	namespace string
	body      *unstructured.Unstructured
}

// Fake is a scriptable client.Cluster. Objects live in a flat map keyed by
// namespace/kind/name; Apply, Create, and Replace insert, Delete removes.
// Apply errors can be injected per object and are consumed in order, so a
// scripted failure followed by a retry succeeds.
type Fake struct {
	mu sync.Mutex

	Name string
	// MissingAPIs marks kinds HasAPIResource reports as not served.
	MissingAPIs map[string]bool
	// MissingNamespaces marks namespaces NamespaceExists reports absent.
	MissingNamespaces map[string]bool
	ListErr           error
	ClaimNames        []string

	objects   map[string]storedObject
	applyErrs map[string][]error
	calls     []Call
}

func NewFake(name string) *Fake {
	return &Fake{
		Name:              name,
		MissingAPIs:       map[string]bool{},
		MissingNamespaces: map[string]bool{},
		objects:           map[string]storedObject{},
		applyErrs:         map[string][]error{},
	}
}

func objectKey(namespace, kind, name string) string {
	return namespace + "/" + kind + "/" + name
}

// Seed stores an object as pre-existing cluster state.
func (f *Fake) Seed(namespace string, body *unstructured.Unstructured) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := objectKey(namespace, body.GetKind(), body.GetName())
	f.objects[key] = storedObject{namespace: namespace, body: body.DeepCopy()}
}

// FailApply scripts errors for subsequent Apply calls on the object. Each
// call consumes one error; later calls succeed once the script is drained.
func (f *Fake) FailApply(namespace, kind, name string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := objectKey(namespace, kind, name)
	f.applyErrs[key] = append(f.applyErrs[key], errs...)
}

// Calls returns the recorded invocations of one method.
func (f *Fake) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Object returns the stored body, or nil when absent.
func (f *Fake) Object(namespace, kind, name string) *unstructured.Unstructured {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.objects[objectKey(namespace, kind, name)]
	if !ok {
		return nil
	}
	return stored.body.DeepCopy()
}

func (f *Fake) record(c Call) {
	f.calls = append(f.calls, c)
}

func (f *Fake) ClusterName() string { return f.Name }

func (f *Fake) HasAPIResource(kind string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.MissingAPIs[kind]
}

func (f *Fake) ListItems(ctx context.Context, kind, namespace string, names []string) ([]unstructured.Unstructured, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "ListItems", Namespace: namespace, Kind: kind})
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}
	var out []unstructured.Unstructured
	for _, stored := range f.objects {
		if stored.namespace != namespace || stored.body.GetKind() != kind {
			continue
		}
		if len(wanted) > 0 && !wanted[stored.body.GetName()] {
			continue
		}
		out = append(out, *stored.body.DeepCopy())
	}
	return out, nil
}

func (f *Fake) Get(ctx context.Context, namespace, kind, name string) (*unstructured.Unstructured, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "Get", Namespace: namespace, Kind: kind, Name: name})
	stored, ok := f.objects[objectKey(namespace, kind, name)]
	if !ok {
		return nil, &client.Error{
			Kind:      client.KindNotFound,
			Cluster:   f.Name,
			Namespace: namespace,
			Resource:  kind,
			Name:      name,
			Err:       fmt.Errorf("%s %q not found", kind, name),
		}
	}
	return stored.body.DeepCopy(), nil
}

func (f *Fake) Apply(ctx context.Context, namespace string, body *unstructured.Unstructured) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := objectKey(namespace, body.GetKind(), body.GetName())
	f.record(Call{Method: "Apply", Namespace: namespace, Kind: body.GetKind(), Name: body.GetName()})
	if errs := f.applyErrs[key]; len(errs) > 0 {
		err := errs[0]
		f.applyErrs[key] = errs[1:]
		return err
	}
	f.objects[key] = storedObject{namespace: namespace, body: body.DeepCopy()}
	return nil
}

func (f *Fake) Create(ctx context.Context, namespace string, body *unstructured.Unstructured) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "Create", Namespace: namespace, Kind: body.GetKind(), Name: body.GetName()})
	key := objectKey(namespace, body.GetKind(), body.GetName())
	f.objects[key] = storedObject{namespace: namespace, body: body.DeepCopy()}
	return nil
}

func (f *Fake) Replace(ctx context.Context, namespace string, body *unstructured.Unstructured) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "Replace", Namespace: namespace, Kind: body.GetKind(), Name: body.GetName()})
	key := objectKey(namespace, body.GetKind(), body.GetName())
	f.objects[key] = storedObject{namespace: namespace, body: body.DeepCopy()}
	return nil
}

func (f *Fake) Delete(ctx context.Context, namespace, kind, name string, cascade bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "Delete", Namespace: namespace, Kind: kind, Name: name, Cascade: cascade})
	delete(f.objects, objectKey(namespace, kind, name))
	return nil
}

func (f *Fake) RemoveLastAppliedConfiguration(ctx context.Context, namespace, kind, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "RemoveLastAppliedConfiguration", Namespace: namespace, Kind: kind, Name: name})
	return nil
}

func (f *Fake) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "NamespaceExists", Namespace: namespace})
	return !f.MissingNamespaces[namespace], nil
}

func (f *Fake) OwnedClaimNames(ctx context.Context, namespace, owner string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "OwnedClaimNames", Namespace: namespace, Name: owner})
	return f.ClaimNames, nil
}

func (f *Fake) ResizeClaims(ctx context.Context, namespace string, names []string, size string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.record(Call{Method: "ResizeClaims", Namespace: namespace, Name: n, Size: size})
	}
	return nil
}

func (f *Fake) RecyclePods(ctx context.Context, dryRun bool, namespace, kind, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "RecyclePods", Namespace: namespace, Kind: kind, Name: name})
	return nil
}

func (f *Fake) StreamLogs(ctx context.Context, namespace, name, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Method: "StreamLogs", Namespace: namespace, Name: name, Size: dir})
	return nil
}
