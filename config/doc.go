// Package config loads the blobfs YAML configuration.
//
// The file is named by the --config flag or the BLOBFS_CONFIG environment
// variable. Unset fields take the values of Default; the result is
// validated before it is returned. The only environment override is
// BLOBFS_ACCESS_KEY_SECRET, which replaces backend.access_key_secret.
//
// Example:
//
//	container: media
//	root_url: https://oss-cn-hangzhou.aliyuncs.com/
//	public_read: true
//	backend:
//	  type: oss
//	  endpoint: oss-cn-hangzhou.aliyuncs.com
//	  access_key_id: LTAI...
//	cache_control: "*|public,max-age=86400;pdf|no-cache"
//	migration:
//	  copy_timeout: 10m
//	log:
//	  level: info
//	  file: /var/log/blobfs/blobfs.log
package config
