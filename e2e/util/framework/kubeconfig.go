package framework

import (
	"os"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// WriteInClusterKubeconfig generates a kubeconfig file based on the in-cluster configuration.
// The generated file can be used by kubectl, helm or the e2e framework inside the Pod.
func WriteInClusterKubeconfig(path string) error {
	// Load the in-cluster configuration from service account and environment variables
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return err
	}
	return WriteKubeconfig(cfg, path)
}

// WriteKubeconfig serializes the server, CA and bearer token of cfg as a kubeconfig file.
func WriteKubeconfig(cfg *rest.Config, path string) error {
	kubeconfig := clientcmdapi.NewConfig()

	cluster := clientcmdapi.NewCluster()
	cluster.Server = cfg.Host
	cluster.CertificateAuthority = cfg.CAFile
	kubeconfig.Clusters["in-cluster"] = cluster

	auth := clientcmdapi.NewAuthInfo()
	auth.Token = cfg.BearerToken
	auth.TokenFile = cfg.BearerTokenFile
	kubeconfig.AuthInfos["sa-user"] = auth

	context := clientcmdapi.NewContext()
	context.Cluster = "in-cluster"
	context.AuthInfo = "sa-user"
	kubeconfig.Contexts["in-cluster"] = context
	kubeconfig.CurrentContext = "in-cluster"

	data, err := clientcmd.Write(*kubeconfig)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
