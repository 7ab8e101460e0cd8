// Package k8s resolves k8s:// proxy targets against Kubernetes Services.
package k8s

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/rathix/devserver/internal/discovery"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ServiceResolver resolves targets of the form
// k8s://<service>.<namespace>[:<port>]. A named port is selected with
// ?port=<name>. Without a port the Service's first port is used.
type ServiceResolver struct {
	clientset kubernetes.Interface
}

// NewServiceResolver creates a resolver backed by clientset.
func NewServiceResolver(clientset kubernetes.Interface) *ServiceResolver {
	return &ServiceResolver{clientset: clientset}
}

func (r *ServiceResolver) Resolve(ctx context.Context, target *url.URL) (*url.URL, error) {
	if target.Scheme != "k8s" {
		return nil, fmt.Errorf("%w: %q", discovery.ErrUnsupportedScheme, target.Scheme)
	}

	name, namespace, ok := strings.Cut(target.Hostname(), ".")
	if !ok || name == "" || namespace == "" {
		return nil, fmt.Errorf("k8s target %q: host must be <service>.<namespace>", target.Host)
	}

	svc, err := r.clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get service %s/%s: %w", namespace, name, err)
	}

	want := target.Port()
	if want == "" {
		want = target.Query().Get("port")
	}
	port, err := pickPort(svc, want)
	if err != nil {
		return nil, fmt.Errorf("service %s/%s: %w", namespace, name, err)
	}

	host := svc.Spec.ClusterIP
	if host == "" || host == corev1.ClusterIPNone {
		host = fmt.Sprintf("%s.%s.svc", name, namespace)
	}

	scheme := "http"
	if port.Name == "https" || port.Port == 443 {
		scheme = "https"
	}
	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(int(port.Port))),
		Path:   target.Path,
	}, nil
}

func pickPort(svc *corev1.Service, want string) (corev1.ServicePort, error) {
	if len(svc.Spec.Ports) == 0 {
		return corev1.ServicePort{}, fmt.Errorf("%w: service exposes no ports", discovery.ErrNoInstances)
	}
	if want == "" {
		return svc.Spec.Ports[0], nil
	}
	n, numErr := strconv.Atoi(want)
	for _, p := range svc.Spec.Ports {
		if numErr == nil && int(p.Port) == n {
			return p, nil
		}
		if p.Name == want {
			return p, nil
		}
	}
	return corev1.ServicePort{}, fmt.Errorf("no port %q", want)
}
